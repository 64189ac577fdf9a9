// Package checkpoint implements the segment-buffer mining pipeline:
// checkpoint_decide gating, snapshot materialization, and the
// workflow/preference/claim/node mining steps it fans out to
// (spec.md §4.7).
package checkpoint

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
)

// DecideResult is Mind's parsed checkpoint_decide response. Only
// should_checkpoint/state/checkpoint_kind are literally named by
// spec.md §4.7; should_mine_workflow/should_mine_preferences gate steps
// 2 and 3 the same way plan_min_checks' booleans gate the pre-action
// phase.
type DecideResult struct {
	ShouldCheckpoint      bool
	State                 string
	CheckpointKind        string
	ShouldMineWorkflow    bool
	ShouldMinePreferences bool
}

// SkippedState is the sentinel non-actionable checkpoint_decide state
// (mirrors mindmediator.State's "skipped" for breaker-open/failed calls).
const SkippedState = "skipped"

// ParseDecideResult extracts a DecideResult from Mind's raw response
// object.
func ParseDecideResult(obj map[string]any) DecideResult {
	var r DecideResult
	r.ShouldCheckpoint, _ = obj["should_checkpoint"].(bool)
	r.State, _ = obj["state"].(string)
	r.CheckpointKind, _ = obj["checkpoint_kind"].(string)
	r.ShouldMineWorkflow, _ = obj["should_mine_workflow"].(bool)
	r.ShouldMinePreferences, _ = obj["should_mine_preferences"].(bool)
	return r
}

// Fires reports whether this checkpoint_decide result should actually
// trigger the mining pipeline: should_checkpoint=true and a state that is
// neither empty nor "skipped" (spec.md §4.7).
func (r DecideResult) Fires() bool {
	return r.ShouldCheckpoint && r.State != SkippedState && r.State != ""
}

// Gate enforces at-most-once-per-(batch_id, checkpoint_kind), mirroring
// spec.md §4.7's "the key includes (batch_id, checkpoint_kind)".
type Gate struct {
	seen map[string]bool
}

// NewGate returns a Gate seeded from a previously persisted
// last_checkpoint_key (overlay.SegmentState.LastCheckpointKey), so a
// process restart doesn't immediately re-fire the checkpoint it just
// recorded.
func NewGate(lastCheckpointKey string) *Gate {
	g := &Gate{seen: make(map[string]bool)}
	if lastCheckpointKey != "" {
		g.seen[lastCheckpointKey] = true
	}
	return g
}

// Key builds the (batch_id, checkpoint_kind) composite key.
func Key(batchID, checkpointKind string) string {
	return fmt.Sprintf("%s:%s", batchID, checkpointKind)
}

// Allow reports whether this (batchID, checkpointKind) pair hasn't fired
// yet, and records it as seen either way (a denied call does not need to
// be retried; the caller simply skips the checkpoint for this batch).
func (g *Gate) Allow(batchID, checkpointKind string) bool {
	key := Key(batchID, checkpointKind)
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

// ResetSegment clears st's record buffer and stamps last_checkpoint_key,
// per spec.md §4.7 step 6 "Reset the segment buffer; record
// last_checkpoint_key".
func ResetSegment(st *overlay.SegmentState, batchID, checkpointKind string) {
	overlay.ClearSegmentState(st)
	st.LastCheckpointKey = Key(batchID, checkpointKind)
	st.LastCheckpointTS = time.Now().UTC().Format(time.RFC3339)
}
