package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/mind-incarnation/internal/checkpoint"
	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/hands"
	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
	"github.com/antigravity-dev/mind-incarnation/internal/learnupdate"
	"github.com/antigravity-dev/mind-incarnation/internal/loopguard"
	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
	"github.com/antigravity-dev/mind-incarnation/internal/whytrace"
	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// Status is a run's terminal state (spec.md §4.9 "repeat until terminal").
const (
	StatusDone    = "done"
	StatusBlocked = "blocked"
)

// CheckpointConfig mirrors miconfig.Checkpoint, the mine-on-checkpoint
// toggles plus the optional cron-style secondary trigger.
type CheckpointConfig struct {
	MinOccurrences           int
	AllowSingleIfHighBenefit bool
	WorkflowAutoMine         bool
	PreferenceAutoMine       bool
	ClaimAutoMine            bool
	AutoNodes                bool
	CronSpec                 string
}

// WhyTraceConfig governs the optional run-end why_trace pass (spec.md §4.9
// "optional why_trace").
type WhyTraceConfig struct {
	Enabled    bool
	WriteEdges bool
	Confidence float64
	TopK       int
}

// Config is one run's tunables, sourced from miconfig.Config by the caller.
type Config struct {
	Task          string
	MaxBatches    int
	ContinueHands bool
	ResetHands    bool
	Violation     ViolationResponsePolicy
	SegmentMax    int
	Checkpoint    CheckpointConfig
	Learn         learnupdate.Thresholds
	WhyTrace      WhyTraceConfig
	Interrupt     hands.InterruptConfig
	RecallTopK    int
}

// Deps are Run's external collaborators: stores, the Mind seam, Hands, and
// the one user-input suspension point.
type Deps struct {
	Mind        MindCaller
	Hands       HandsSupervisor
	Schemas     Schemas
	Prompter    UserPrompter
	Workflows   WorkflowStore
	Recall      memoryindex.Recaller
	Memory      MemoryIndexer
	ProjectLog  *evidencelog.Log
	GlobalLog   *evidencelog.Log
	ProjectDB   *thoughtdb.DB
	GlobalDB    *thoughtdb.DB
	Paths       ProjectPaths
	ProjectRoot string
	ProjectID   string
	IdentityKey string
	Logger      *slog.Logger
	HostSync    checkpoint.HostAdapter

	// ConfigReload, when set, is consulted at the start of every batch so a
	// SIGHUP-triggered miconfig reload takes effect on the next batch without
	// interrupting the in-flight one (miconfig.ConfigManager's documented
	// "hot-reload ... without interrupting an in-flight run").
	ConfigReload func() Config
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) hostSync() checkpoint.HostAdapter {
	if d.HostSync != nil {
		return d.HostSync
	}
	return checkpoint.NopHostAdapter{}
}

// Outcome is what Run returns once the batch loop reaches a terminal state
// or exhausts MaxBatches.
type Outcome struct {
	Status  string
	Notes   string
	Batches int
}

// runState is the run-scoped mutable state threaded through every batch.
// Nothing here survives past one Run call except what gets persisted back
// to overlay.json / segment_state.json / the Thought DB streams.
type runState struct {
	overlay *overlay.ProjectOverlay
	segment *overlay.SegmentState

	projectView *thoughtdb.View
	globalView  *thoughtdb.View

	registry *workflowtrigger.Registry

	loop     loopguard.Window
	gate     *checkpoint.Gate
	wfMiner  *checkpoint.WorkflowMiner
	prefSeen map[string]bool

	newLearnSuggestions int
	activeLearnedClaims int

	threadID         string
	lastHandsMessage string
	nextInput        string

	directClaimIDs []string // claim ids cited by decide_next/risk_judge this run, for why_trace

	lastTarget whytrace.Target // last evidence or decide_next event, why_trace's subject

	// stateWarnings buffers corrupt/missing-state notices for the deferred
	// run-end flush into the EvidenceLog (spec.md §7, §4.8).
	stateWarnings []map[string]any
}

// Run drives the batch state machine spec.md §4.9 describes: compose
// prompt -> invoke Hands -> extract evidence -> assess risk -> pre-action ->
// decide_next -> checkpoint+mine -> repeat, until a batch reaches "done" or
// "blocked", or batch_idx reaches MaxBatches.
func Run(ctx context.Context, cfg Config, deps Deps) (Outcome, error) {
	log := deps.logger()

	var deferredWarnings []map[string]any

	ov, warning := overlay.LoadProjectOverlay(deps.Paths.Overlay())
	if warning != "" {
		deferredWarnings = append(deferredWarnings, map[string]any{"text": warning, "source": "overlay"})
	}
	ov.ProjectID = deps.ProjectID
	if ov.RootPath == "" {
		ov.RootPath = deps.ProjectRoot
	}
	if ov.IdentityKey == "" {
		ov.IdentityKey = deps.IdentityKey
	}

	threadID := ""
	if cfg.ContinueHands && !cfg.ResetHands {
		threadID = ov.HandsState.ThreadID
	}

	segment, segWarning := overlay.LoadSegmentState(deps.Paths.SegmentState(), threadID)
	if segWarning != "" {
		deferredWarnings = append(deferredWarnings, map[string]any{"text": segWarning, "source": "segment_state"})
	}

	projectView, err := thoughtdb.BuildView(deps.ProjectDB, deps.ProjectID)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: build project view: %w", err)
	}
	globalView, err := thoughtdb.BuildView(deps.GlobalDB, "")
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: build global view: %w", err)
	}

	projectWorkflows, err := deps.Workflows.LoadProject()
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: load project workflows: %w", err)
	}
	globalWorkflows, err := deps.Workflows.LoadGlobal()
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: load global workflows: %w", err)
	}
	registry := workflowtrigger.Merge(projectWorkflows, globalWorkflows)

	st := &runState{
		overlay:       ov,
		segment:       segment,
		projectView:   projectView,
		globalView:    globalView,
		registry:      registry,
		gate:          checkpoint.NewGate(segment.LastCheckpointKey),
		wfMiner:       checkpoint.NewWorkflowMiner(),
		prefSeen:      map[string]bool{},
		threadID:      threadID,
		nextInput:     cfg.Task,
		stateWarnings: deferredWarnings,
	}
	st.activeLearnedClaims = countLearnedClaims(projectView)

	if !st.overlay.WorkflowRun.Active {
		if m, ok := workflowtrigger.MatchAtRunStart(st.registry, cfg.Task); ok {
			workflowtrigger.Activate(&st.overlay.WorkflowRun, m)
			rec, _ := deps.ProjectLog.Append(evidencelog.KindWorkflowTrigger, "", "", map[string]any{
				"workflow_id": m.WorkflowID, "workflow_name": m.WorkflowName, "trigger_pattern": m.TriggerPattern,
			})
			marker := fmt.Sprintf("MI Workflow Triggered: %s (%s)", m.WorkflowName, m.WorkflowID)
			// The trigger marker is the first segment record of the session
			// and prefixes the first Hands input (spec.md §3 lifecycle, §4.6).
			overlay.AppendSegmentRecord(st.segment, "workflow_trigger", map[string]any{
				"event_id": rec.EventID, "text": marker,
				"workflow_id": m.WorkflowID, "workflow_name": m.WorkflowName, "trigger_pattern": m.TriggerPattern,
			}, cfg.SegmentMax)
			st.nextInput = marker + "\n\n" + cfg.Task
		}
	}

	seedOperationalDefaults(deps, projectView, globalView)

	outcome := Outcome{Status: StatusBlocked, Notes: "reached max_batches"}
	batchN := 0
	for batchN < cfg.MaxBatches {
		batchN++
		batchID := idgen.Batch(batchN, "")

		if deps.ConfigReload != nil {
			reloaded := deps.ConfigReload()
			reloaded.Task = cfg.Task // task never changes mid-run, only its tunables do
			cfg = reloaded
		}

		terminal, status, notes, err := runBatch(ctx, batchID, cfg, deps, st, log)
		if err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: batch %s: %w", batchID, err)
		}

		runCheckpointPipeline(ctx, batchID, cfg, deps, st, log)

		if err := persistRunState(deps, st); err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: persist state after %s: %w", batchID, err)
		}

		if terminal {
			outcome = Outcome{Status: status, Notes: notes, Batches: batchN}
			break
		}
		outcome.Batches = batchN
	}

	runEnd(ctx, cfg, deps, st, log)
	if err := persistRunState(deps, st); err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: persist final state: %w", err)
	}

	return outcome, nil
}

func persistRunState(deps Deps, st *runState) error {
	if err := overlay.SaveProjectOverlay(deps.Paths.Overlay(), st.overlay); err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}
	if err := overlay.SaveSegmentState(deps.Paths.SegmentState(), st.segment); err != nil {
		return fmt.Errorf("save segment state: %w", err)
	}
	return nil
}

func countLearnedClaims(v *thoughtdb.View) int {
	n := 0
	for _, c := range v.ActiveClaims() {
		for _, t := range c.Tags {
			if t == "mi:learned" {
				n++
				break
			}
		}
	}
	return n
}

func firstString(s string, ok bool) string {
	if !ok {
		return ""
	}
	return s
}

// seedOperationalDefaults ensures the global EvidenceLog carries a
// mi_defaults_set event matching the currently resolved defaults, reusing
// the latest one when its payload is unchanged (spec.md §4.3, §8
// "Idempotent defaults seeding"), and seeds the initial tagged preference
// claims when none exist yet.
func seedOperationalDefaults(deps Deps, projectView, globalView *thoughtdb.View) {
	askWhenUncertain := thoughtdb.ResolveBoolDefault(projectView, globalView, thoughtdb.TagAskWhenUncertain, true)
	refactorIntent := firstString(thoughtdb.ResolveStringDefault(projectView, globalView, thoughtdb.TagRefactorIntent))

	needsDefaults, desiredJSON := thoughtdb.EnsureOperationalDefaultsCurrent(lastMiDefaultsSet(deps.GlobalLog), thoughtdb.Defaults{
		AskWhenUncertain: askWhenUncertain,
		RefactorIntent:   refactorIntent,
	})
	if !needsDefaults {
		return
	}
	rec, err := deps.GlobalLog.Append(evidencelog.KindMiDefaultsSet, "", "", map[string]any{"defaults": desiredJSON})
	if err != nil {
		deps.logger().Error("append mi_defaults_set failed", "error", err)
		return
	}

	// Seed the initial claims only when no claim carries the tag anywhere;
	// existing claims (project or global) already are the resolved truth.
	if _, found := thoughtdb.ResolveStringDefault(projectView, globalView, thoughtdb.TagAskWhenUncertain); !found {
		_, err := deps.GlobalDB.AppendClaim(thoughtdb.Claim{
			ClaimType:  thoughtdb.ClaimPreference,
			Text:       fmt.Sprintf("%t", askWhenUncertain),
			Scope:      thoughtdb.ScopeGlobal,
			Visibility: thoughtdb.VisibilityGlobal,
			Tags:       []string{thoughtdb.TagAskWhenUncertain},
			SourceRefs: []thoughtdb.SourceRef{{EventID: rec.EventID}},
			Confidence: 1,
		})
		if err != nil {
			deps.logger().Error("seed ask_when_uncertain claim failed", "error", err)
		}
	}
}

// lastMiDefaultsSet reads the most recent mi_defaults_set record's payload
// out of the global EvidenceLog, the seam EnsureOperationalDefaultsCurrent
// compares the desired defaults against.
func lastMiDefaultsSet(globalLog *evidencelog.Log) thoughtdb.LastMiDefaultsSet {
	return func() (string, bool) {
		recs, err := globalLog.ReadAll()
		if err != nil {
			return "", false
		}
		for i := len(recs) - 1; i >= 0; i-- {
			if recs[i].Kind != evidencelog.KindMiDefaultsSet {
				continue
			}
			payload, _ := recs[i].Data["defaults"].(string)
			if payload != "" {
				return payload, true
			}
		}
		return "", false
	}
}
