package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/learnupdate"
	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
	"github.com/antigravity-dev/mind-incarnation/internal/whytrace"
)

// runEnd implements spec.md §4.9's run finalization: learn_update when
// enough signal accumulated this run, then the opt-in why_trace pass.
// Neither stage can make the run itself fail; storage errors are logged
// and otherwise swallowed, matching the rest of the package's "EvidenceLog
// is the system of record" posture.
func runEnd(ctx context.Context, cfg Config, deps Deps, st *runState, log *slog.Logger) {
	runLearnUpdate(ctx, cfg, deps, st, log)
	runWhyTrace(ctx, cfg, deps, st, log)
	flushMemoryIndex(ctx, deps, st, log)
	flushStateWarnings(deps, st, log)
}

// flushMemoryIndex makes this run's newly committed claims recallable from
// other projects (spec.md §4.8 "flush any buffered snapshots into the
// memory index"). Best-effort: a failed write stops the flush but never
// fails the run (spec.md §5 "memory-index updates ... must not raise").
func flushMemoryIndex(ctx context.Context, deps Deps, st *runState, log *slog.Logger) {
	if deps.Memory == nil || len(st.directClaimIDs) == 0 {
		return
	}
	view, err := thoughtdb.BuildView(deps.ProjectDB, deps.ProjectID)
	if err != nil {
		log.Error("run-end: rebuild view for memory flush failed", "error", err)
		return
	}
	for _, id := range st.directClaimIDs {
		c, ok := view.ClaimsByID[id]
		if !ok {
			continue
		}
		if err := deps.Memory.IndexClaim(ctx, deps.ProjectID, id, c.Text); err != nil {
			log.Error("run-end: memory index flush failed", "claim_id", id, "error", err)
			return
		}
	}
}

// flushStateWarnings writes the deferred corrupt/missing-state notices
// collected at load time into the EvidenceLog (spec.md §7 "record a
// state_warning deferred record", §4.8 "flush deferred state warnings").
func flushStateWarnings(deps Deps, st *runState, log *slog.Logger) {
	for _, w := range st.stateWarnings {
		logAppend(deps.ProjectLog, log, evidencelog.KindStateWarning, "", st.threadID, w)
	}
	st.stateWarnings = nil
}

func runLearnUpdate(ctx context.Context, cfg Config, deps Deps, st *runState, log *slog.Logger) {
	if st.newLearnSuggestions == 0 {
		return
	}
	if !learnupdate.ShouldRun(cfg.Learn, st.newLearnSuggestions, st.activeLearnedClaims) {
		return
	}
	prompt := fmt.Sprintf("Consolidate this run's %d new learn-suggested hints against %d already-active learned claims into a bounded patch.",
		st.newLearnSuggestions, st.activeLearnedClaims)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("learn_update"), prompt, "learn_update", "")
	if state != mindmediator.StateOK {
		return
	}
	patch := learnupdate.ParsePatch(obj, cfg.Learn)
	if len(patch.Claims) == 0 && len(patch.Retracts) == 0 {
		return
	}
	applied, err := learnupdate.Apply(deps.ProjectDB, patch, thoughtdb.ApplyOptions{
		ProjectID: deps.ProjectID, MinConfidence: cfg.Learn.MinConfidence, MaxClaims: cfg.Learn.MaxClaims,
	})
	if err != nil {
		log.Error("run-end: learn_update apply failed", "error", err)
		return
	}
	st.directClaimIDs = append(st.directClaimIDs, applied.Written...)
	logAppend(deps.ProjectLog, log, evidencelog.KindLearnUpdate, "", st.threadID, map[string]any{
		"written": applied.Written, "linked_existing": applied.LinkedExisting,
		"retracted_ids": applied.RetractedIDs, "skipped": applied.Skipped,
	})
}

func runWhyTrace(ctx context.Context, cfg Config, deps Deps, st *runState, log *slog.Logger) {
	if !cfg.WhyTrace.Enabled {
		return
	}
	if st.lastTarget.EventID == "" {
		return
	}

	var recalled []memoryindex.Item
	bundle := memoryindex.BundleRecall(ctx, deps.Recall, "why_trace", st.lastTarget.EventID, cfg.WhyTrace.TopK)
	recalled = bundle.Items
	logAppend(deps.ProjectLog, log, evidencelog.KindCrossProjectRecall, "", st.threadID, map[string]any{
		"reason": bundle.Reason, "query": bundle.Query, "items": bundle.Items,
	})

	candidates := whytrace.GatherCandidates(st.projectView, st.directClaimIDs, recalled, cfg.WhyTrace.TopK)
	if len(candidates) == 0 {
		return
	}

	prompt := fmt.Sprintf("Target event %s (%s). Choose the minimal supporting claim subset from: %v",
		st.lastTarget.EventID, st.lastTarget.Kind, candidates)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("why_trace"), prompt, "why_trace", "")
	if state != mindmediator.StateOK {
		return
	}
	result := whytrace.ParseResult(obj)

	logAppend(deps.ProjectLog, log, evidencelog.KindWhyTrace, "", st.threadID, map[string]any{
		"target_event_id": st.lastTarget.EventID, "target_kind": st.lastTarget.Kind,
		"selected_claim_ids": result.SelectedClaimIDs, "confidence": result.Confidence,
	})

	if !whytrace.ShouldWriteEdges(result, cfg.WhyTrace.Confidence, cfg.WhyTrace.WriteEdges) {
		return
	}
	if _, err := whytrace.MaterializeDependsOn(deps.ProjectDB, st.lastTarget, result, thoughtdb.ScopeProject, thoughtdb.VisibilityProject); err != nil {
		log.Error("run-end: why_trace materialize edges failed", "error", err)
	}
}
