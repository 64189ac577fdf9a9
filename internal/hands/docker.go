package hands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerSupervisor runs the Hands CLI inside a container instead of as a
// bare subprocess, adapted from cortex's internal/dispatch/docker.go
// container-context-directory pattern: the prompt (and provider-specific
// files) are written to a host-mounted context dir, the container runs a
// shell wrapper, and combined stdout/stderr is read back through
// stdcopy.StdCopy once the container exits (SPEC_FULL.md §B).
type DockerSupervisor struct {
	Image      string // e.g. "hands-agent:latest"
	Entrypoint []string
	EnvPassthrough []string // env var names forwarded into the container
}

func (d *DockerSupervisor) Exec(ctx context.Context, prompt, projectRoot, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	return d.run(ctx, prompt, projectRoot, "", transcriptPath, cfg)
}

func (d *DockerSupervisor) Resume(ctx context.Context, threadID, prompt, projectRoot, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	return d.run(ctx, prompt, projectRoot, threadID, transcriptPath, cfg)
}

func (d *DockerSupervisor) run(ctx context.Context, prompt, projectRoot, threadID, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	tw, err := openTranscript(transcriptPath)
	if err != nil {
		return RunResult{}, err
	}
	defer tw.close()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: docker client: %w", err)
	}
	defer cli.Close()

	sessionName := fmt.Sprintf("mi-hands-%s", uuid.NewString())
	hostCtxDir, err := os.MkdirTemp("", "mi-hands-ctx-*")
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: create context dir: %w", err)
	}
	defer os.RemoveAll(hostCtxDir)

	if err := os.WriteFile(filepath.Join(hostCtxDir, "prompt.txt"), []byte(prompt), 0o644); err != nil {
		return RunResult{}, fmt.Errorf("hands: write prompt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(hostCtxDir, "thread_id.txt"), []byte(threadID), 0o644); err != nil {
		return RunResult{}, fmt.Errorf("hands: write thread_id: %w", err)
	}
	if err := os.WriteFile(filepath.Join(hostCtxDir, "run.sh"), []byte(dockerShellScript()), 0o755); err != nil {
		return RunResult{}, fmt.Errorf("hands: write run script: %w", err)
	}

	var env []string
	for _, name := range d.EnvPassthrough {
		env = append(env, name+"="+os.Getenv(name))
	}

	entrypoint := d.Entrypoint
	if len(entrypoint) == 0 {
		entrypoint = []string{"sh", "/mi-ctx/run.sh"}
	}

	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		absRoot = projectRoot
	}
	absCtx, err := filepath.Abs(hostCtxDir)
	if err != nil {
		absCtx = hostCtxDir
	}

	cfgC := &container.Config{
		Image:      d.Image,
		Cmd:        entrypoint,
		Tty:        false,
		WorkingDir: "/workspace",
		Env:        env,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: absCtx, Target: "/mi-ctx", ReadOnly: true},
			{Type: mount.TypeBind, Source: absRoot, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	resp, err := cli.ContainerCreate(ctx, cfgC, hostCfg, nil, nil, sessionName)
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: container create: %w", err)
	}
	defer cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	tw.append("meta", fmt.Sprintf("mi.docker.container_id=%s", resp.ID))
	started := time.Now()
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("hands: container start: %w", err)
	}

	waitCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			tw.append("meta", fmt.Sprintf("mi.docker.wait_error=%v", err))
			exitCode = -1
		}
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		exitCode = -1
	}

	logs, err := cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	var lastLine string
	if err == nil {
		defer logs.Close()
		var stdout, stderr bytes.Buffer
		stdcopy.StdCopy(&stdout, &stderr, logs)
		for _, line := range strings.Split(stdout.String(), "\n") {
			tw.append("stdout", line)
			if strings.TrimSpace(line) != "" {
				lastLine = line
			}
		}
		for _, line := range strings.Split(stderr.String(), "\n") {
			tw.append("stderr", line)
		}
	}
	tw.append("meta", fmt.Sprintf("mi.docker.exit_code=%d duration_ms=%d", exitCode, time.Since(started).Milliseconds()))

	resolvedThreadID := threadID
	if resolvedThreadID == "" {
		resolvedThreadID = "unknown"
	}

	return RunResult{
		ThreadID:          resolvedThreadID,
		ExitCode:          exitCode,
		RawTranscriptPath: transcriptPath,
		LastAgentMessage:  lastLine,
	}, nil
}

func dockerShellScript() string {
	return `#!/bin/sh
set -e
hands-cli --cd /workspace exec --json - < /mi-ctx/prompt.txt
`
}
