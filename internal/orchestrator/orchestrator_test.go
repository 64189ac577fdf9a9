package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/hands"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// fakeMind answers every schema with a fixed map, recording every call it
// receives so tests can assert which schemas actually fired this batch
// (spec.md §8 scenario 1's "expected: exactly the events ...").
type fakeMind struct {
	calls     []string
	responses map[string]map[string]any
}

func (f *fakeMind) Call(schema mindmediator.Schema, prompt, tag, batchID string) (map[string]any, string, mindmediator.State) {
	f.calls = append(f.calls, schema.Name)
	if obj, ok := f.responses[schema.Name]; ok {
		return obj, "", mindmediator.StateOK
	}
	return map[string]any{}, "", mindmediator.StateOK
}

// fakeHands returns one fixed, clean RunResult for every Exec/Resume call,
// recording the prompts and thread ids it was handed.
type fakeHands struct {
	result  hands.RunResult
	execs   int
	resumes int
	prompts []string
	resumed []string
}

func (f *fakeHands) Exec(ctx context.Context, prompt, projectRoot, transcriptPath string, cfg hands.InterruptConfig) (hands.RunResult, error) {
	f.execs++
	f.prompts = append(f.prompts, prompt)
	return f.result, nil
}

func (f *fakeHands) Resume(ctx context.Context, threadID, prompt, projectRoot, transcriptPath string, cfg hands.InterruptConfig) (hands.RunResult, error) {
	f.resumes++
	f.resumed = append(f.resumed, threadID)
	f.prompts = append(f.prompts, prompt)
	return f.result, nil
}

// fakePrompter answers every question with a fixed reply.
type fakePrompter struct {
	answer    string
	questions []string
}

func (f *fakePrompter) Ask(ctx context.Context, question string) (string, error) {
	f.questions = append(f.questions, question)
	return f.answer, nil
}

// recordingWorkflows serves fixed project/global workflow sets and records
// every save.
type recordingWorkflows struct {
	project      []workflowtrigger.Workflow
	global       []workflowtrigger.Workflow
	projectSaves []workflowtrigger.Workflow
	globalSaves  []workflowtrigger.Workflow
}

func (s *recordingWorkflows) LoadProject() ([]workflowtrigger.Workflow, error) { return s.project, nil }
func (s *recordingWorkflows) LoadGlobal() ([]workflowtrigger.Workflow, error)  { return s.global, nil }
func (s *recordingWorkflows) SaveProject(w workflowtrigger.Workflow) error {
	s.projectSaves = append(s.projectSaves, w)
	return nil
}
func (s *recordingWorkflows) SaveGlobal(w workflowtrigger.Workflow) error {
	s.globalSaves = append(s.globalSaves, w)
	return nil
}

type nopWorkflows struct{}

func (nopWorkflows) LoadProject() ([]workflowtrigger.Workflow, error) { return nil, nil }
func (nopWorkflows) LoadGlobal() ([]workflowtrigger.Workflow, error)  { return nil, nil }
func (nopWorkflows) SaveProject(w workflowtrigger.Workflow) error     { return nil }
func (nopWorkflows) SaveGlobal(w workflowtrigger.Workflow) error      { return nil }

func schemaSet(names ...string) Schemas {
	out := make(Schemas, len(names))
	for _, n := range names {
		out[n] = mindmediator.Schema{Name: n, Doc: map[string]any{}, Raw: "{}"}
	}
	return out
}

func newTestDeps(t *testing.T, mind *fakeMind, h *fakeHands) (Deps, string) {
	t.Helper()
	home := t.TempDir()
	paths := ProjectPaths{Home: home, ProjectID: "proj1"}

	projectLog := evidencelog.Open(paths.Evidence())
	globalLog := evidencelog.Open(paths.GlobalEvidence())
	projectDB := thoughtdb.Open(paths.ThoughtDB())
	globalDB := thoughtdb.Open(paths.GlobalThoughtDB())

	deps := Deps{
		Mind:        mind,
		Hands:       h,
		Schemas:     schemaSet(schemaNames...),
		Prompter:    nil,
		Workflows:   nopWorkflows{},
		Recall:      nil,
		ProjectLog:  projectLog,
		GlobalLog:   globalLog,
		ProjectDB:   projectDB,
		GlobalDB:    globalDB,
		Paths:       paths,
		ProjectRoot: filepath.Join(home, "repo"),
		ProjectID:   "proj1",
	}
	return deps, home
}

// TestScenarioSkipChecksWhenClean reproduces spec.md §8 scenario 1: a clean
// single-batch run that stops "done" with no risk signals and no
// uncertainty, so plan_min_checks is skipped and decide_next is the only
// decision call.
func TestScenarioSkipChecksWhenClean(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence": {"facts": []any{"ran ls"}, "actions": []any{}, "results": []any{}, "unknowns": []any{}, "risk_signals": []any{}},
			"decide_next":      {"next_action": "stop", "status": "done"},
		},
	}
	h := &fakeHands{result: hands.RunResult{ThreadID: "t1", ExitCode: 0, LastAgentMessage: "All done."}}
	deps, _ := newTestDeps(t, mind, h)

	outcome, err := Run(context.Background(), Config{Task: "list files", MaxBatches: 5}, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != StatusDone {
		t.Fatalf("status = %q, want done", outcome.Status)
	}
	if outcome.Batches != 1 {
		t.Fatalf("batches = %d, want 1", outcome.Batches)
	}

	recs, err := deps.ProjectLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var kinds []string
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	want := []string{evidencelog.KindHandsInput, evidencelog.KindEvidence, evidencelog.KindCheckPlan, evidencelog.KindDecideNext}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want exactly %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], k)
		}
	}
	for _, r := range recs {
		if r.Kind == evidencelog.KindCheckPlan {
			if notes, _ := r.Data["notes"].(string); notes == "" {
				t.Errorf("check_plan notes empty, want a skip explanation")
			}
		}
	}

	for _, name := range mind.calls {
		if name == "plan_min_checks" || name == "auto_answer_to_hands" || name == "risk_judge" {
			t.Errorf("mind call %q should not have fired on a clean batch", name)
		}
	}
}

// TestScenarioLoopGuardBlocksWithAskDisabled reproduces spec.md §8 scenario
// 2: three identical batches trip the "aaa" loop pattern, and with
// ask_when_uncertain=false the run ends blocked without calling loop_break.
func TestScenarioLoopGuardBlocksWithAskDisabled(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence": {"facts": []any{}, "unknowns": []any{}, "risk_signals": []any{}},
			"decide_next":      {"next_action": "send_to_hands", "next_hands_input": "do next"},
		},
	}
	h := &fakeHands{result: hands.RunResult{ThreadID: "t1", ExitCode: 0, LastAgentMessage: "Still working."}}
	deps, _ := newTestDeps(t, mind, h)

	if _, err := deps.ProjectDB.AppendClaim(thoughtdb.Claim{
		ClaimType: thoughtdb.ClaimPreference, Text: "false", Scope: thoughtdb.ScopeProject,
		Visibility: thoughtdb.VisibilityProject, Tags: []string{thoughtdb.TagAskWhenUncertain},
		SourceRefs: []thoughtdb.SourceRef{{EventID: "ev_seed"}}, Confidence: 1,
	}); err != nil {
		t.Fatalf("seed ask_when_uncertain claim: %v", err)
	}

	outcome, err := Run(context.Background(), Config{Task: "do a thing", MaxBatches: 10}, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != StatusBlocked {
		t.Fatalf("status = %q, want blocked", outcome.Status)
	}
	if outcome.Batches != 3 {
		t.Fatalf("batches = %d, want 3", outcome.Batches)
	}
	if outcome.Notes == "" {
		t.Errorf("notes empty, want a loop_guard explanation")
	}

	recs, err := deps.ProjectLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	found := false
	for _, r := range recs {
		if r.Kind == evidencelog.KindLoopGuard {
			found = true
			if pattern, _ := r.Data["pattern"].(string); pattern != "aaa" {
				t.Errorf("loop_guard pattern = %q, want aaa", pattern)
			}
		}
	}
	if !found {
		t.Errorf("no loop_guard event recorded")
	}
	for _, name := range mind.calls {
		if name == "loop_break" {
			t.Errorf("loop_break should not be called when ask_when_uncertain is false")
		}
	}
}

// TestScenarioAutoLearnFalseRecordsSuggestion reproduces spec.md §8
// scenario 3: with auto_learn disabled, a decide_next learn_suggested hint
// produces a learn_suggested event with no applied claim ids and a
// preference candidate on disk; applying the candidate later writes the
// claim.
func TestScenarioAutoLearnFalseRecordsSuggestion(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence": {"facts": []any{}, "unknowns": []any{}, "risk_signals": []any{}},
			"decide_next": {
				"next_action": "stop", "status": "done",
				"learn_suggested": []any{
					map[string]any{"scope": "project", "text": "Do not auto-install dependencies without asking"},
				},
			},
		},
	}
	h := &fakeHands{result: hands.RunResult{ThreadID: "t1", LastAgentMessage: "Done."}}
	deps, _ := newTestDeps(t, mind, h)

	outcome, err := Run(context.Background(), Config{Task: "tidy deps", MaxBatches: 3}, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != StatusDone {
		t.Fatalf("status = %q, want done", outcome.Status)
	}

	recs, err := deps.ProjectLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var suggested *evidencelog.Record
	for i := range recs {
		if recs[i].Kind == evidencelog.KindLearnSuggested {
			suggested = &recs[i]
		}
	}
	if suggested == nil {
		t.Fatalf("no learn_suggested event recorded")
	}
	if auto, _ := suggested.Data["auto_learn"].(bool); auto {
		t.Errorf("auto_learn = true, want false")
	}
	if applied, ok := suggested.Data["applied_claim_ids"].([]any); ok && len(applied) != 0 {
		t.Errorf("applied_claim_ids = %v, want empty", applied)
	}

	view, err := thoughtdb.BuildView(deps.ProjectDB, deps.ProjectID)
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}
	if n := len(view.ActiveClaims()); n != 0 {
		t.Fatalf("expected no claim written while auto_learn=false, got %d", n)
	}

	cands, err := thoughtdb.LoadPreferenceCandidates(deps.Paths.PreferenceCandidates())
	if err != nil {
		t.Fatalf("LoadPreferenceCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 preference candidate, got %d", len(cands))
	}

	claim, err := deps.ProjectDB.ApplySuggestedLearn(deps.Paths.PreferenceCandidates(), cands[0].ID, nil)
	if err != nil {
		t.Fatalf("ApplySuggestedLearn: %v", err)
	}
	if claim.ClaimID == "" {
		t.Fatalf("expected apply-suggested to write a claim")
	}
}

// TestScenarioHandsThreadPersistence reproduces spec.md §8 scenario 4: a
// second run with continue_hands resumes the overlay-persisted thread; with
// reset_hands it must exec fresh instead.
func TestScenarioHandsThreadPersistence(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence": {"facts": []any{}, "unknowns": []any{}, "risk_signals": []any{}},
			"decide_next":      {"next_action": "stop", "status": "done"},
		},
	}

	t.Run("continue resumes", func(t *testing.T) {
		h := &fakeHands{result: hands.RunResult{ThreadID: "t123", LastAgentMessage: "Done."}}
		deps, _ := newTestDeps(t, mind, h)
		if err := overlay.SaveProjectOverlay(deps.Paths.Overlay(), &overlay.ProjectOverlay{
			ProjectID:  deps.ProjectID,
			HandsState: overlay.HandsState{Provider: "codex", ThreadID: "t123"},
		}); err != nil {
			t.Fatalf("seed overlay: %v", err)
		}

		if _, err := Run(context.Background(), Config{Task: "continue work", MaxBatches: 1, ContinueHands: true}, deps); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if h.resumes != 1 || h.execs != 0 {
			t.Fatalf("resumes = %d, execs = %d, want resume-only first batch", h.resumes, h.execs)
		}
		if h.resumed[0] != "t123" {
			t.Errorf("resumed thread = %q, want t123", h.resumed[0])
		}
	})

	t.Run("reset execs", func(t *testing.T) {
		h := &fakeHands{result: hands.RunResult{ThreadID: "t456", LastAgentMessage: "Done."}}
		deps, _ := newTestDeps(t, mind, h)
		if err := overlay.SaveProjectOverlay(deps.Paths.Overlay(), &overlay.ProjectOverlay{
			ProjectID:  deps.ProjectID,
			HandsState: overlay.HandsState{Provider: "codex", ThreadID: "t123"},
		}); err != nil {
			t.Fatalf("seed overlay: %v", err)
		}

		if _, err := Run(context.Background(), Config{Task: "fresh start", MaxBatches: 1, ContinueHands: true, ResetHands: true}, deps); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if h.execs != 1 || h.resumes != 0 {
			t.Fatalf("execs = %d, resumes = %d, want exec-only with reset_hands", h.execs, h.resumes)
		}
	})
}

// TestScenarioGlobalWorkflowTrigger reproduces spec.md §8 scenario 5: an
// enabled global workflow with a task_contains trigger marks the first
// Hands input with the literal trigger marker and is not copied into the
// project store.
func TestScenarioGlobalWorkflowTrigger(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence":  {"facts": []any{}, "unknowns": []any{}, "risk_signals": []any{}},
			"workflow_progress": {},
			"decide_next":       {"next_action": "stop", "status": "done"},
		},
	}
	h := &fakeHands{result: hands.RunResult{ThreadID: "t1", LastAgentMessage: "Done."}}
	deps, _ := newTestDeps(t, mind, h)

	store := &recordingWorkflows{
		global: []workflowtrigger.Workflow{{
			ID: "wf_deploy", Name: "Deploy", Enabled: true,
			Trigger: workflowtrigger.Trigger{Mode: workflowtrigger.TriggerTaskContains, Pattern: "deploy"},
			Steps:   []workflowtrigger.Step{{ID: "s1", Name: "ship it"}},
		}},
	}
	deps.Workflows = store

	if _, err := Run(context.Background(), Config{Task: "deploy the app", MaxBatches: 1}, deps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.prompts) == 0 {
		t.Fatalf("hands never invoked")
	}
	first := h.prompts[0]
	if !strings.Contains(first, "MI Workflow Triggered") {
		t.Errorf("first hands input missing the trigger marker: %q", first)
	}
	if !strings.Contains(first, "wf_deploy") {
		t.Errorf("first hands input missing the workflow id: %q", first)
	}
	if len(store.projectSaves) != 0 {
		t.Errorf("global workflow must not be duplicated into the project store, got %v", store.projectSaves)
	}
}

// TestScenarioTestlessCanonicalization reproduces spec.md §8 scenario 6:
// when checks need a testless strategy and no claim exists, MI prompts the
// user once, canonicalizes the answer as a tagged project preference Claim,
// and mirrors the pointer in ProjectOverlay.
func TestScenarioTestlessCanonicalization(t *testing.T) {
	mind := &fakeMind{
		responses: map[string]map[string]any{
			"extract_evidence": {"facts": []any{}, "unknowns": []any{"no test suite found"}, "risk_signals": []any{}},
			"plan_min_checks":  {"should_run_checks": false, "needs_testless_strategy": true, "hands_check_input": "", "notes": "no tests"},
			"decide_next":      {"next_action": "stop", "status": "done"},
		},
	}
	h := &fakeHands{result: hands.RunResult{ThreadID: "t1", LastAgentMessage: "Done."}}
	deps, _ := newTestDeps(t, mind, h)
	prompter := &fakePrompter{answer: "run smoke script ./smoke.sh"}
	deps.Prompter = prompter

	if _, err := Run(context.Background(), Config{Task: "change the config loader", MaxBatches: 1}, deps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(prompter.questions) != 1 {
		t.Fatalf("expected exactly one user prompt, got %d: %v", len(prompter.questions), prompter.questions)
	}

	view, err := thoughtdb.BuildView(deps.ProjectDB, deps.ProjectID)
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}
	tagged := view.ClaimsByTag(thoughtdb.TagTestlessVerificationStrategy)
	if len(tagged) != 1 {
		t.Fatalf("expected one testless-strategy claim, got %d", len(tagged))
	}
	if tagged[0].ClaimType != thoughtdb.ClaimPreference || tagged[0].Scope != thoughtdb.ScopeProject {
		t.Errorf("claim = %+v, want a project-scope preference", tagged[0])
	}
	if tagged[0].Text != "run smoke script ./smoke.sh" {
		t.Errorf("claim text = %q", tagged[0].Text)
	}

	ov, warn := overlay.LoadProjectOverlay(deps.Paths.Overlay())
	if warn != "" {
		t.Fatalf("overlay warning: %s", warn)
	}
	if !ov.TestlessVerificationStrategy.ChosenOnce || ov.TestlessVerificationStrategy.Strategy != "run smoke script ./smoke.sh" {
		t.Errorf("overlay pointer = %+v", ov.TestlessVerificationStrategy)
	}
}
