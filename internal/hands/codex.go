package hands

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// CodexSupervisor spawns the Codex-flavored Hands binary in its strict JSON
// event mode (spec.md §4.1 "codex --cd <root> exec --json -").
type CodexSupervisor struct {
	// BinPath is the Codex-compatible binary; defaults to "codex".
	BinPath string
}

func (c *CodexSupervisor) binPath() string {
	if c.BinPath != "" {
		return c.BinPath
	}
	return "codex"
}

// Exec implements Supervisor.
func (c *CodexSupervisor) Exec(ctx context.Context, prompt, projectRoot, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	return c.run(ctx, []string{"--cd", projectRoot, "exec", "--json", "-"}, prompt, transcriptPath, cfg)
}

// Resume implements Supervisor. On failure, the caller (the orchestrator)
// writes a hands_resume_failed EvidenceLog event and falls back to Exec,
// per spec.md §4.1.
func (c *CodexSupervisor) Resume(ctx context.Context, threadID, prompt, projectRoot, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	return c.run(ctx, []string{"--cd", projectRoot, "exec", "resume", threadID, "--json", "-"}, prompt, transcriptPath, cfg)
}

func (c *CodexSupervisor) run(ctx context.Context, args []string, prompt, transcriptPath string, cfg InterruptConfig) (RunResult, error) {
	tw, err := openTranscript(transcriptPath)
	if err != nil {
		return RunResult{}, err
	}
	defer tw.close()

	cmd := exec.CommandContext(ctx, c.binPath(), args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("hands: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("hands: start %s: %w", c.binPath(), err)
	}

	if _, err := stdin.Write([]byte(prompt)); err != nil {
		tw.append("meta", fmt.Sprintf("mi.stdin.write_error=%v", err))
	}
	stdin.Close()

	var mu sync.Mutex
	var events []Event
	state := &interruptState{}
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(ctx, stdout, "stdout", tw, cfg, state, func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}, nil)
	}()
	go func() {
		defer wg.Done()
		streamLines(ctx, stderr, "stderr", tw, cfg, state, nil, nil)
	}()

	go runInterruptScheduler(ctx, cfg, cmdPID(cmd), tw, state, done)

	wg.Wait()
	close(done)
	waitErr := cmd.Wait()
	exitCode := exitCodeOf(waitErr)
	tw.append("meta", fmt.Sprintf("mi.codex.exit_code=%d", exitCode))

	mu.Lock()
	defer mu.Unlock()
	return RunResult{
		ThreadID:          findThreadID(events),
		ExitCode:          exitCode,
		Events:            events,
		RawTranscriptPath: transcriptPath,
		LastAgentMessage:  lastAgentMessage(events),
	}, nil
}

func cmdPID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}
