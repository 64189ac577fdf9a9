package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/checkpoint"
	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// anyMiningEnabled reports whether at least one mining feature is on, the
// gate spec.md §4.7 opens the whole checkpoint pipeline with ("Triggered
// after every batch (only when at least one mining feature is enabled)").
func anyMiningEnabled(cc CheckpointConfig) bool {
	return cc.WorkflowAutoMine || cc.PreferenceAutoMine || cc.ClaimAutoMine || cc.AutoNodes
}

// runCheckpointPipeline implements spec.md §4.7 end to end: asks
// checkpoint_decide, and on a fired (non-skipped, gated) decision
// materializes the snapshot and fans out to whichever of the four mining
// steps are enabled, before resetting the segment buffer.
func runCheckpointPipeline(ctx context.Context, batchID string, cfg Config, deps Deps, st *runState, log *slog.Logger) {
	if !anyMiningEnabled(cfg.Checkpoint) {
		return
	}
	if len(st.segment.Records) == 0 {
		return
	}

	decide, forcedByCron := cronForcedDecide(cfg.Checkpoint.CronSpec, st.segment.LastCheckpointTS)
	if !forcedByCron {
		prompt := fmt.Sprintf("Segment buffer has %d records since the last checkpoint. Latest next_input: %q",
			len(st.segment.Records), st.nextInput)
		obj, _, state := deps.Mind.Call(deps.Schemas.get("checkpoint_decide"), prompt, "checkpoint_decide", batchID)
		if state != mindmediator.StateOK {
			return
		}
		decide = checkpoint.ParseDecideResult(obj)
		if !decide.Fires() {
			return
		}
	}
	if !st.gate.Allow(batchID, decide.CheckpointKind) {
		return
	}

	snapshot := checkpoint.BuildSnapshot(st.segment.Records, decide.CheckpointKind, decide.State, 0)
	logAppend(deps.ProjectLog, log, evidencelog.KindSnapshot, batchID, st.threadID, map[string]any{
		"checkpoint_kind": snapshot.CheckpointKind, "status_hint": snapshot.StatusHint,
		"tags": snapshot.Tags, "text": snapshot.Text, "source_refs": snapshot.SourceRefs,
	})

	if decide.ShouldMineWorkflow && cfg.Checkpoint.WorkflowAutoMine {
		mineWorkflow(deps, st, cfg, batchID, snapshot, log)
	}
	if decide.ShouldMinePreferences && cfg.Checkpoint.PreferenceAutoMine {
		minePreferences(deps, st, cfg, batchID, snapshot, log)
	}
	if cfg.Checkpoint.ClaimAutoMine {
		mineClaims(deps, st, batchID, snapshot, log)
	}
	if cfg.Checkpoint.AutoNodes {
		materializeNodes(deps, st, snapshot, log)
	}

	checkpoint.ResetSegment(st.segment, batchID, decide.CheckpointKind)
}

// cronForcedDecide reports whether CronSpec's secondary schedule has
// elapsed since lastCheckpointTS, and if so returns a synthetic "fires,
// mine everything" decision that bypasses the checkpoint_decide call
// entirely (spec.md §4.7's checkpoint gate, extended per miconfig.Checkpoint
// with an optional cron-style secondary trigger; see crontrigger.go).
func cronForcedDecide(cronSpec, lastCheckpointTS string) (checkpoint.DecideResult, bool) {
	if cronSpec == "" {
		return checkpoint.DecideResult{}, false
	}
	last, err := time.Parse(time.RFC3339, lastCheckpointTS)
	if err != nil {
		return checkpoint.DecideResult{}, false
	}
	if !ShouldForceCheckpointByCron(cronSpec, last, time.Now().UTC()) {
		return checkpoint.DecideResult{}, false
	}
	return checkpoint.DecideResult{
		ShouldCheckpoint:      true,
		State:                 "ok",
		CheckpointKind:        "cron",
		ShouldMineWorkflow:    true,
		ShouldMinePreferences: true,
	}, true
}

func mineWorkflow(deps Deps, st *runState, cfg Config, batchID string, snapshot checkpoint.Snapshot, log *slog.Logger) {
	prompt := "Recent segment summary:\n" + snapshot.Text
	obj, _, state := deps.Mind.Call(deps.Schemas.get("suggest_workflow"), prompt, "suggest_workflow", batchID)
	if state != mindmediator.StateOK {
		return
	}
	sw := checkpoint.ParseSuggestedWorkflow(obj)
	if sw.Name == "" {
		return
	}
	sig := sw.Signature()
	occurrences := st.wfMiner.Observe(sig)
	if !checkpoint.ShouldWrite(occurrences, cfg.Checkpoint.MinOccurrences, cfg.Checkpoint.AllowSingleIfHighBenefit, sw.HighBenefit) {
		if err := checkpoint.RecordWorkflowCandidate(deps.Paths.WorkflowCandidates(), sw, occurrences); err != nil {
			log.Error("checkpoint: record workflow candidate failed", "signature", sig, "error", err)
		}
		return
	}
	wf := sw.ToWorkflow()
	if err := deps.Workflows.SaveProject(wf); err != nil {
		log.Error("checkpoint: save mined workflow failed", "workflow_id", wf.ID, "error", err)
		return
	}
	if err := deps.hostSync().SyncWorkflow(wf); err != nil {
		log.Error("checkpoint: host sync of mined workflow failed", "workflow_id", wf.ID, "error", err)
	}
}

func minePreferences(deps Deps, st *runState, cfg Config, batchID string, snapshot checkpoint.Snapshot, log *slog.Logger) {
	prompt := "Recent segment summary:\n" + snapshot.Text
	obj, _, state := deps.Mind.Call(deps.Schemas.get("mine_preferences"), prompt, "mine_preferences", batchID)
	if state != mindmediator.StateOK {
		return
	}
	prefs := checkpoint.ParseSuggestedPreferences(obj)
	prefs = checkpoint.DedupePreferences(prefs, deps.ProjectID, st.prefSeen)
	for _, p := range prefs {
		claimID, err := checkpoint.ApplyPreference(deps.ProjectDB, deps.Paths.PreferenceCandidates(), p)
		if err != nil {
			log.Error("checkpoint: apply preference failed", "error", err)
			continue
		}
		var applied []string
		if claimID != "" {
			applied = []string{claimID}
			st.directClaimIDs = append(st.directClaimIDs, claimID)
		}
		logAppend(deps.ProjectLog, log, evidencelog.KindLearnSuggested, batchID, st.threadID, map[string]any{
			"source": "checkpoint_mine_preferences", "auto_learn": p.AutoLearn,
			"learn_suggested": map[string]any{"text": p.Text, "scope": p.Scope, "tags": p.Tags, "confidence": p.Confidence},
			"applied_claim_ids": applied,
		})
		st.newLearnSuggestions++
	}
}

func mineClaims(deps Deps, st *runState, batchID string, snapshot checkpoint.Snapshot, log *slog.Logger) {
	prompt := "Recent segment summary:\n" + snapshot.Text + "\nAllowed source event ids: " + strings.Join(snapshot.SourceRefs, ", ")
	obj, _, state := deps.Mind.Call(deps.Schemas.get("mine_claims"), prompt, "mine_claims", batchID)
	if state != mindmediator.StateOK {
		return
	}
	mined := checkpoint.ParseMinedOutput(obj)
	allowed := checkpoint.AllowedEventIDs(st.segment.Records)
	result, err := deps.ProjectDB.ApplyMinedOutput(mined, thoughtdb.ApplyOptions{
		ProjectID: deps.ProjectID, MinConfidence: 0.5, MaxClaims: 20, AllowedEventIDs: allowed,
	})
	if err != nil {
		log.Error("checkpoint: apply mined claims failed", "error", err)
		return
	}
	st.directClaimIDs = append(st.directClaimIDs, result.Written...)
}

func materializeNodes(deps Deps, st *runState, snapshot checkpoint.Snapshot, log *slog.Logger) {
	if _, _, err := checkpoint.MaterializeNodes(deps.ProjectDB, thoughtdb.ScopeProject, thoughtdb.VisibilityProject, st.segment.Records, snapshot); err != nil {
		log.Error("checkpoint: materialize nodes failed", "error", err)
	}
}
