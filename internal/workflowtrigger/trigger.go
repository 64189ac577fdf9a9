package workflowtrigger

import "strings"

// Match describes a triggered workflow, ready to seed a segment record and
// an overlay.WorkflowRun.
type Match struct {
	WorkflowID     string
	WorkflowName   string
	TriggerPattern string
	FirstStepID    string
}

// MatchAtRunStart scans the effective registry's enabled workflows in
// order for a task_contains case-insensitive substring match against task.
// The first match wins (spec.md §4.6); later workflows are not consulted
// once one matches.
func MatchAtRunStart(reg *Registry, task string) (Match, bool) {
	lowerTask := strings.ToLower(task)
	for _, w := range reg.Enabled() {
		if w.Trigger.Mode != TriggerTaskContains {
			continue
		}
		pattern := strings.ToLower(w.Trigger.Pattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(lowerTask, pattern) {
			return Match{
				WorkflowID:     w.ID,
				WorkflowName:   w.Name,
				TriggerPattern: w.Trigger.Pattern,
				FirstStepID:    w.FirstStepID(),
			}, true
		}
	}
	return Match{}, false
}
