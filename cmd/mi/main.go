// Command mi is MI's CLI entry point: a thin flag-based dispatcher that
// wires the stores, the Mind mediator, a Hands supervisor, and the
// orchestrator's batch loop together for one `mi run <task>` invocation
// (spec.md §6 "thin CLI layer").
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/cliutil"
	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/hands"
	"github.com/antigravity-dev/mind-incarnation/internal/learnupdate"
	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/miconfig"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/orchestrator"
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/projectid"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// stdinPrompter implements orchestrator.UserPrompter by reading one line
// from stdin after writing the question to stderr (spec.md §5 "user prompt
// readline", one of the run-loop's three suspension points).
type stdinPrompter struct {
	reader *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s\n> ", question)
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- result{line: strings.TrimRight(line, "\r\n"), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func buildMindProvider(p miconfig.Provider, logger *slog.Logger) (mindmediator.Provider, error) {
	apiKey := os.Getenv(p.APIKeyEnv)
	switch p.Kind {
	case "codex_schema":
		return &mindmediator.CodexSchemaProvider{BinPath: firstNonEmpty(p.BaseURL, "codex")}, nil
	case "openai_compatible":
		return &mindmediator.OpenAICompatibleProvider{BaseURL: p.BaseURL, Model: p.Model, APIKey: apiKey}, nil
	case "anthropic":
		return &mindmediator.AnthropicProvider{BaseURL: p.BaseURL, Model: p.Model, APIKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("mi: unknown mind provider kind %q", p.Kind)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func buildHandsSupervisor(h miconfig.Hands) (hands.Supervisor, error) {
	opts := map[string]any{
		"bin_path":    h.BinPath,
		"args":        h.Args,
		"prompt_mode": h.PromptMode,
		"image":       h.Image,
	}
	return hands.New(h.Kind, opts)
}

func buildInterruptConfig(ic miconfig.Interrupt) hands.InterruptConfig {
	var seq []syscall.Signal
	for _, name := range ic.Signals {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "SIGINT":
			seq = append(seq, syscall.SIGINT)
		case "SIGTERM":
			seq = append(seq, syscall.SIGTERM)
		case "SIGKILL":
			seq = append(seq, syscall.SIGKILL)
		}
	}
	escalation := make([]int, len(seq))
	for i := range escalation {
		if i == 0 {
			escalation[i] = int(ic.GraceInterval.Duration / time.Millisecond)
			continue
		}
		escalation[i] = int(ic.EscalateAfter.Duration / time.Millisecond)
	}
	return hands.InterruptConfig{
		Mode:           hands.InterruptMode(ic.Mode),
		SignalSequence: seq,
		EscalationMs:   escalation,
	}
}

func readOverlayIdentity(projectDir string) (string, string) {
	ov, _ := overlay.LoadProjectOverlay(projectDir + "/overlay.json")
	return ov.IdentityKey, ov.RootPath
}

// buildRunConfig derives one batch loop's tunables from the live miconfig
// snapshot. Called once at startup and again from orchestrator.Deps.ConfigReload
// at the start of every batch, so a SIGHUP reload of the manager changes the
// next batch's cadence and mining toggles without restarting the run.
func buildRunConfig(cfg *miconfig.Config, task string, resetHands bool) orchestrator.Config {
	return orchestrator.Config{
		Task:          task,
		MaxBatches:    cfg.General.MaxBatches,
		ContinueHands: true,
		ResetHands:    resetHands,
		Violation: orchestrator.ViolationResponsePolicy{
			AutoLearn:         true,
			ConfirmOnSeverity: []string{"high"},
		},
		SegmentMax: cfg.Checkpoint.SegmentMax,
		Checkpoint: orchestrator.CheckpointConfig{
			MinOccurrences:           cfg.Checkpoint.MinOccurrences,
			AllowSingleIfHighBenefit: cfg.Checkpoint.AllowSingleIfHighBenefit,
			WorkflowAutoMine:         cfg.Checkpoint.WorkflowAutoMine,
			PreferenceAutoMine:       cfg.Checkpoint.PreferenceAutoMine,
			ClaimAutoMine:            cfg.Checkpoint.ClaimAutoMine,
			AutoNodes:                cfg.Checkpoint.AutoNodes,
			CronSpec:                 cfg.Checkpoint.CronSpec,
		},
		Learn: learnupdate.Thresholds{
			MinNewSuggestionsPerRun: 1,
			MinActiveLearnedClaims:  0,
			MaxClaims:               20,
			MaxRetracts:             5,
			MinConfidence:           0.5,
		},
		WhyTrace: orchestrator.WhyTraceConfig{
			Enabled:    true,
			WriteEdges: true,
			Confidence: 0.6,
			TopK:       10,
		},
		Interrupt:  buildInterruptConfig(cfg.Interrupt),
		RecallTopK: 5,
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("mi run", flag.ExitOnError)
	configPath := fs.String("config", "mi.toml", "path to MI config file")
	projectRoot := fs.String("C", ".", "project root directory (or @token shorthand)")
	dev := fs.Bool("dev", false, "use text log format (default is JSON)")
	resetHands := fs.Bool("reset-hands", false, "start a fresh Hands thread instead of resuming")
	fs.Parse(args)

	task := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("mi run: a task description is required")
	}

	mgr, err := miconfig.LoadManager(*configPath)
	if err != nil {
		return fmt.Errorf("mi: loading config: %w", err)
	}
	cfg := mgr.Get()
	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	root := *projectRoot
	if p, ok := cfg.Projects[strings.TrimPrefix(root, "@")]; ok && strings.HasPrefix(root, "@") {
		root = p.Root
	}
	absRoot, err := os.Getwd()
	if err == nil && root == "." {
		root = absRoot
	}

	home := cfg.General.Home
	projectID := projectid.Resolve(home, root, nil, readOverlayIdentity)
	paths := orchestrator.ProjectPaths{Home: home, ProjectID: projectID}

	projectLog := evidencelog.Open(paths.Evidence())
	globalLog := evidencelog.Open(paths.GlobalEvidence())
	projectDB := thoughtdb.Open(paths.ThoughtDB())
	globalDB := thoughtdb.Open(paths.GlobalThoughtDB())

	schemas, err := orchestrator.LoadSchemas("mi/schemas")
	if err != nil {
		return fmt.Errorf("mi: loading schemas: %w", err)
	}

	providerName := cfg.General.MindProvider
	if providerName == "" {
		for name := range cfg.Providers {
			providerName = name
			break
		}
	}
	providerCfg, ok := cfg.Providers[providerName]
	if !ok {
		return fmt.Errorf("mi: no mind provider configured (set [general].mind_provider)")
	}
	provider, err := buildMindProvider(providerCfg, logger)
	if err != nil {
		return err
	}
	recorder := mindmediator.NewFileTranscriptRecorder(paths.MindTranscriptDir())
	eventRecorder := mindmediator.EvidenceEventRecorder{Log: projectLog, Logger: logger}
	mediator := mindmediator.NewMediator(provider, recorder, eventRecorder, providerCfg.MaxRetries, cfg.General.MindTimeout.Duration)

	handsSupervisor, err := buildHandsSupervisor(cfg.Hands)
	if err != nil {
		return fmt.Errorf("mi: building hands supervisor: %w", err)
	}

	var recall memoryindex.Recaller
	var memWriter orchestrator.MemoryIndexer
	if cfg.Memory.Backend == "sqlite_fts" {
		idx, err := memoryindex.Open(paths.MemoryIndex())
		if err != nil {
			logger.Error("mi: opening memory index failed, continuing without cross-project recall", "error", err)
		} else {
			recall = idx
			memWriter = idx
		}
	}

	workflows := orchestrator.FileWorkflowStore{ProjectDir: paths.Workflows(), GlobalDir: paths.GlobalWorkflows()}

	runCfg := buildRunConfig(cfg, task, *resetHands)

	deps := orchestrator.Deps{
		Mind:        mediator,
		Hands:       handsSupervisor,
		Schemas:     schemas,
		Prompter:    newStdinPrompter(),
		Workflows:   workflows,
		Recall:      recall,
		Memory:      memWriter,
		ProjectLog:  projectLog,
		GlobalLog:   globalLog,
		ProjectDB:   projectDB,
		GlobalDB:    globalDB,
		Paths:       paths,
		ProjectRoot: root,
		ProjectID:   projectID,
		IdentityKey: projectid.ComputeIdentity(root).Key,
		Logger:      logger,
		ConfigReload: func() orchestrator.Config {
			return buildRunConfig(mgr.Get(), task, *resetHands)
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if err := mgr.Reload(*configPath); err != nil {
				logger.Error("mi: config reload failed", "error", err)
				continue
			}
			logger.Info("mi: config reloaded, next batch will use it", "path", *configPath)
		}
	}()
	defer signal.Stop(hupCh)

	outcome, err := orchestrator.Run(ctx, runCfg, deps)
	if err != nil {
		return fmt.Errorf("mi: run failed: %w", err)
	}
	logger.Info("run complete", "status", outcome.Status, "batches", outcome.Batches, "notes", outcome.Notes)
	if outcome.Status == orchestrator.StatusBlocked {
		os.Exit(1)
	}
	return nil
}

func statusCommand(args []string) error {
	fs := flag.NewFlagSet("mi status", flag.ExitOnError)
	configPath := fs.String("config", "mi.toml", "path to MI config file")
	projectRoot := fs.String("C", ".", "project root directory")
	fs.Parse(args)

	cfg, err := miconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("mi: loading config: %w", err)
	}
	root := *projectRoot
	if root == "." {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	projectID := projectid.Resolve(cfg.General.Home, root, nil, readOverlayIdentity)
	paths := orchestrator.ProjectPaths{Home: cfg.General.Home, ProjectID: projectID}
	ov, _ := overlay.LoadProjectOverlay(paths.Overlay())

	fmt.Printf("project_id: %s\n", projectID)
	fmt.Printf("root: %s\n", root)
	fmt.Printf("hands thread: %s\n", ov.HandsState.ThreadID)
	fmt.Printf("workflow active: %t\n", ov.WorkflowRun.Active)

	view, err := thoughtdb.BuildView(thoughtdb.Open(paths.ThoughtDB()), projectID)
	if err != nil {
		return fmt.Errorf("mi: building thought view: %w", err)
	}
	fmt.Printf("active claims: %d\n", len(view.ActiveClaims()))
	return nil
}

// learnedCommand handles `mi learned apply-suggested <id>`: it commits one
// previously recorded preference candidate as a Claim and records a
// learn_applied event in the project EvidenceLog.
func learnedCommand(args []string) error {
	fs := flag.NewFlagSet("mi learned", flag.ExitOnError)
	configPath := fs.String("config", "mi.toml", "path to MI config file")
	projectRoot := fs.String("C", ".", "project root directory")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 2 || rest[0] != "apply-suggested" {
		return fmt.Errorf("usage: mi learned apply-suggested <suggestion_id>")
	}
	suggestionID := rest[1]

	cfg, err := miconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("mi: loading config: %w", err)
	}
	root := *projectRoot
	if root == "." {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	projectID := projectid.Resolve(cfg.General.Home, root, nil, readOverlayIdentity)
	paths := orchestrator.ProjectPaths{Home: cfg.General.Home, ProjectID: projectID}

	db := thoughtdb.Open(paths.ThoughtDB())
	claim, err := db.ApplySuggestedLearn(paths.PreferenceCandidates(), suggestionID, nil)
	if err != nil {
		return fmt.Errorf("mi: applying suggestion: %w", err)
	}

	projectLog := evidencelog.Open(paths.Evidence())
	if _, err := projectLog.Append(evidencelog.KindLearnApplied, "", "", map[string]any{
		"suggestion_id": suggestionID, "claim_id": claim.ClaimID, "text": claim.Text,
	}); err != nil {
		return fmt.Errorf("mi: recording learn_applied: %w", err)
	}
	fmt.Printf("applied %s as claim %s\n", suggestionID, claim.ClaimID)
	return nil
}

func main() {
	args := cliutil.RewriteProjectShorthand(os.Args[1:])
	// The rewrite puts "-C <token>" ahead of the subcommand; move the pair
	// behind it so the subcommand's own flag set parses it.
	if len(args) >= 3 && args[0] == "-C" {
		args = append([]string{args[2], "-C", args[1]}, args[3:]...)
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mi <run|status|learned> [args]")
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = runCommand(args[1:])
	case "status":
		err = statusCommand(args[1:])
	case "learned":
		err = learnedCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "mi: unknown command %q\n", args[0])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
