package workflowtrigger

import "github.com/antigravity-dev/mind-incarnation/internal/overlay"

// ProgressUpdate is the parsed workflow_progress response
// (spec.md §4.6: `{advance_completed_step_ids, set_next_step_id,
// close_reason}`).
type ProgressUpdate struct {
	AdvanceCompletedStepIDs []string
	SetNextStepID           string
	CloseReason             string
}

// ParseProgressUpdate reads a ProgressUpdate out of Mind's raw response
// object. All fields are optional; an empty object is a valid no-op update.
func ParseProgressUpdate(obj map[string]any) ProgressUpdate {
	var u ProgressUpdate
	if raw, ok := obj["advance_completed_step_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				u.AdvanceCompletedStepIDs = append(u.AdvanceCompletedStepIDs, s)
			}
		}
	}
	u.SetNextStepID, _ = obj["set_next_step_id"].(string)
	u.CloseReason, _ = obj["close_reason"].(string)
	return u
}

// Apply merges a ProgressUpdate into run in place: newly completed step ids
// are unioned in, next_step_id is overwritten when set, and a non-empty
// close_reason deactivates the run (spec.md §4.6 "Apply the returned
// ... persist updated overlay atomically").
func Apply(run *overlay.WorkflowRun, u ProgressUpdate) {
	if len(u.AdvanceCompletedStepIDs) > 0 {
		seen := make(map[string]bool, len(run.CompletedStepIDs))
		for _, id := range run.CompletedStepIDs {
			seen[id] = true
		}
		for _, id := range u.AdvanceCompletedStepIDs {
			if !seen[id] {
				run.CompletedStepIDs = append(run.CompletedStepIDs, id)
				seen[id] = true
			}
		}
	}
	if u.SetNextStepID != "" {
		run.NextStepID = u.SetNextStepID
	}
	if u.CloseReason != "" {
		run.Active = false
		run.NextStepID = ""
	}
}

// Activate seeds run for a freshly matched workflow (spec.md §4.6
// "mark workflow_run.active=true with next_step_id = steps[0].id").
func Activate(run *overlay.WorkflowRun, m Match) {
	run.Active = true
	run.WorkflowID = m.WorkflowID
	run.CompletedStepIDs = nil
	run.NextStepID = m.FirstStepID
}
