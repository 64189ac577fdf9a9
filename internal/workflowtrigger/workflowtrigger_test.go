package workflowtrigger

import (
	"testing"

	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
)

func TestMergeProjectWinsOverGlobal(t *testing.T) {
	project := []Workflow{{ID: "wf1", Name: "project version", Enabled: true}}
	global := []Workflow{{ID: "wf1", Name: "global version", Enabled: true}, {ID: "wf2", Name: "global only", Enabled: true}}
	reg := Merge(project, global)

	got := reg.Get("wf1")
	if got == nil || got.Name != "project version" {
		t.Fatalf("expected project record to win entirely, got %+v", got)
	}
	if reg.Get("wf2") == nil {
		t.Fatalf("expected global-only workflow to still be present")
	}
}

func TestMatchAtRunStartFirstMatchWins(t *testing.T) {
	reg := Merge(nil, []Workflow{
		{ID: "wf1", Name: "Bugfix", Enabled: true, Trigger: Trigger{Mode: TriggerTaskContains, Pattern: "bug"},
			Steps: []Step{{ID: "s1", Name: "triage"}}},
		{ID: "wf2", Name: "Feature", Enabled: true, Trigger: Trigger{Mode: TriggerTaskContains, Pattern: "fix"}},
	})
	m, ok := MatchAtRunStart(reg, "Please FIX this bug in the parser")
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.WorkflowID != "wf1" {
		t.Errorf("WorkflowID = %q, want wf1 (first enabled match)", m.WorkflowID)
	}
	if m.FirstStepID != "s1" {
		t.Errorf("FirstStepID = %q, want s1", m.FirstStepID)
	}
}

func TestMatchAtRunStartNoMatch(t *testing.T) {
	reg := Merge(nil, []Workflow{
		{ID: "wf1", Enabled: true, Trigger: Trigger{Mode: TriggerTaskContains, Pattern: "bug"}},
	})
	if _, ok := MatchAtRunStart(reg, "add a new feature"); ok {
		t.Errorf("expected no match")
	}
}

func TestMatchAtRunStartSkipsDisabled(t *testing.T) {
	reg := Merge(nil, []Workflow{
		{ID: "wf1", Enabled: false, Trigger: Trigger{Mode: TriggerTaskContains, Pattern: "bug"}},
	})
	if _, ok := MatchAtRunStart(reg, "fix this bug"); ok {
		t.Errorf("expected disabled workflow to never match")
	}
}

func TestActivateAndApplyProgress(t *testing.T) {
	var run overlay.WorkflowRun
	Activate(&run, Match{WorkflowID: "wf1", FirstStepID: "s1"})
	if !run.Active || run.NextStepID != "s1" {
		t.Fatalf("Activate did not seed run correctly: %+v", run)
	}

	Apply(&run, ProgressUpdate{AdvanceCompletedStepIDs: []string{"s1"}, SetNextStepID: "s2"})
	if len(run.CompletedStepIDs) != 1 || run.CompletedStepIDs[0] != "s1" {
		t.Errorf("CompletedStepIDs = %v", run.CompletedStepIDs)
	}
	if run.NextStepID != "s2" {
		t.Errorf("NextStepID = %q, want s2", run.NextStepID)
	}

	Apply(&run, ProgressUpdate{CloseReason: "done"})
	if run.Active {
		t.Errorf("expected close_reason to deactivate the run")
	}
}

func TestApplyProgressDedupesCompletedSteps(t *testing.T) {
	run := overlay.WorkflowRun{CompletedStepIDs: []string{"s1"}}
	Apply(&run, ProgressUpdate{AdvanceCompletedStepIDs: []string{"s1", "s2"}})
	if len(run.CompletedStepIDs) != 2 {
		t.Errorf("expected dedup to keep exactly 2 ids, got %v", run.CompletedStepIDs)
	}
}
