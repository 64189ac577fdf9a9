package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/checkpoint"
	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/gitobserve"
	"github.com/antigravity-dev/mind-incarnation/internal/hands"
	"github.com/antigravity-dev/mind-incarnation/internal/loopguard"
	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/preaction"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
	"github.com/antigravity-dev/mind-incarnation/internal/whytrace"
	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// bundleRecallForAsk runs the "always bundle even if empty" cross-project
// recall step before any user-facing question (SPEC_FULL.md §C.5): a Bundle
// is logged regardless of whether Recall found anything, so why-trace and
// audit readers always see the recall step happened. A bundle with items
// also lands in the segment buffer so checkpoint snapshots carry a Recall
// section; an empty bundle adds no segment record.
func bundleRecallForAsk(ctx context.Context, deps Deps, st *runState, cfg Config, batchID, reason, query string) {
	bundle := memoryindex.BundleRecall(ctx, deps.Recall, reason, query, cfg.RecallTopK)
	items := make([]map[string]any, 0, len(bundle.Items))
	var texts []string
	for _, it := range bundle.Items {
		items = append(items, map[string]any{"claim_id": it.ClaimID, "node_id": it.NodeID, "text": it.Text})
		texts = append(texts, it.Text)
	}
	rec := logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindCrossProjectRecall, batchID, st.threadID, map[string]any{
		"reason": bundle.Reason, "query": bundle.Query, "items": items,
	})
	if len(texts) > 0 {
		overlay.AppendSegmentRecord(st.segment, checkpoint.RecordRecall, map[string]any{
			"event_id": rec.EventID, "text": strings.Join(texts, "; "),
		}, cfg.SegmentMax)
	}
}

// logAppend appends an EvidenceLog record and only surfaces a write failure
// through the logger: EvidenceLog is the system of record, but a failed
// append must never abort an otherwise-healthy batch.
func logAppend(log *evidencelog.Log, logger *slog.Logger, kind, batchID, threadID string, data map[string]any) evidencelog.Record {
	rec, err := log.Append(kind, batchID, threadID, data)
	if err != nil {
		logger.Error("evidencelog append failed", "kind", kind, "batch_id", batchID, "error", err)
	}
	return rec
}

// runBatch executes exactly one batch of spec.md §4.9's loop. It returns
// (terminal, status, notes, err): terminal is true once the run should
// stop, status/notes are only meaningful when terminal is true.
func runBatch(ctx context.Context, batchID string, cfg Config, deps Deps, st *runState, log *slog.Logger) (bool, string, string, error) {
	li := BuildLightInjection(st.projectView, st.globalView, st.overlay)
	prompt := ComposePrompt(li, st.nextInput)

	resumed := st.threadID != ""
	transcriptPath := filepath.Join(deps.Paths.HandsTranscriptDir(), batchID+".jsonl")

	var result hands.RunResult
	var err error
	if resumed {
		result, err = deps.Hands.Resume(ctx, st.threadID, prompt, deps.ProjectRoot, transcriptPath, cfg.Interrupt)
		if err != nil {
			logAppend(deps.ProjectLog, log, evidencelog.KindHandsResumeFailed, batchID, st.threadID, map[string]any{"error": err.Error()})
			resumed = false
			result, err = deps.Hands.Exec(ctx, prompt, deps.ProjectRoot, transcriptPath, cfg.Interrupt)
		}
	} else {
		result, err = deps.Hands.Exec(ctx, prompt, deps.ProjectRoot, transcriptPath, cfg.Interrupt)
	}
	if err != nil {
		return false, "", "", fmt.Errorf("hands invocation: %w", err)
	}

	logAppend(deps.ProjectLog, log, evidencelog.KindHandsInput, batchID, result.ThreadID, map[string]any{
		"input":           st.nextInput,
		"light_injection": li.Render(),
		"prompt_sha256":   PromptSHA256(prompt),
		"resumed":         resumed,
		"transcript_path": transcriptPath,
	})

	st.threadID = result.ThreadID
	st.overlay.HandsState = overlay.HandsState{
		Provider:  st.overlay.HandsState.Provider,
		ThreadID:  result.ThreadID,
		UpdatedTS: time.Now().UTC().Format(time.RFC3339),
	}
	st.lastHandsMessage = result.LastAgentMessage

	evidence := runExtractEvidence(deps, st, cfg, batchID, result)

	riskSignals := DetectRiskSignalsFromEvents(result.Events)
	if len(riskSignals) == 0 {
		riskSignals = DetectRiskSignalsFromTranscript(result.LastAgentMessage)
	}
	riskSignals = append(riskSignals, evidence.RiskSignals...)

	blockedByRisk, err := handleRisk(ctx, deps, st, cfg, batchID, riskSignals)
	if err != nil {
		return false, "", "", fmt.Errorf("risk handling: %w", err)
	}
	if blockedByRisk {
		return true, StatusBlocked, "user declined to proceed after a high-severity risk signal", nil
	}

	if st.overlay.WorkflowRun.Active {
		runWorkflowProgress(deps, st, cfg, batchID, evidence)
	}

	hasPendingGit := gitobserve.HasPendingChanges(deps.ProjectRoot)
	signals := preaction.Signals{
		HandsExitCode:        result.ExitCode,
		Unknowns:             evidence.Unknowns,
		RiskSignals:          riskSignals,
		LastHandsMessage:     result.LastAgentMessage,
		HasPendingGitChanges: hasPendingGit,
	}

	terminal, status, notes, err := runPreActionAndDecide(ctx, deps, st, cfg, batchID, signals)
	if err != nil {
		if blocked, ok := err.(errTerminalBlocked); ok {
			return true, StatusBlocked, blocked.notes, nil
		}
		return false, "", "", fmt.Errorf("pre-action/decide: %w", err)
	}
	return terminal, status, notes, nil
}

func runExtractEvidence(deps Deps, st *runState, cfg Config, batchID string, result hands.RunResult) Evidence {
	var eventsText strings.Builder
	for _, ev := range result.Events {
		eventsText.Write(ev.Raw)
		eventsText.WriteString("\n")
	}
	prompt := fmt.Sprintf("Hands run transcript events:\n%s\n\nLast agent message:\n%s\n\nExit code: %d",
		eventsText.String(), result.LastAgentMessage, result.ExitCode)

	obj, transcriptRef, state := deps.Mind.Call(deps.Schemas.get("extract_evidence"), prompt, "extract_evidence", batchID)
	var evidence Evidence
	if state == mindmediator.StateOK {
		evidence = ParseEvidence(obj)
	}

	rec := logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindEvidence, batchID, st.threadID, map[string]any{
		"facts": evidence.Facts, "actions": evidence.Actions, "results": evidence.Results,
		"unknowns": evidence.Unknowns, "risk_signals": evidence.RiskSignals, "notes": evidence.Notes,
		"transcript_observation": result.LastAgentMessage,
		"repo_observation":       "",
		"mind_transcript_ref":    transcriptRef,
	})

	// The segment buffer records each extracted string under the kind its
	// snapshot section reads (checkpoint.BuildSnapshot / MaterializeNodes
	// group by these kinds).
	appendSegmentTexts(st, cfg, checkpoint.RecordFact, rec.EventID, evidence.Facts)
	appendSegmentTexts(st, cfg, checkpoint.RecordAction, rec.EventID, evidence.Actions)
	appendSegmentTexts(st, cfg, checkpoint.RecordResult, rec.EventID, evidence.Results)
	appendSegmentTexts(st, cfg, checkpoint.RecordUnknown, rec.EventID, evidence.Unknowns)

	st.lastTarget = whytrace.Target{EventID: rec.EventID, Kind: "evidence"}
	return evidence
}

func appendSegmentTexts(st *runState, cfg Config, kind, eventID string, texts []string) {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		overlay.AppendSegmentRecord(st.segment, kind, map[string]any{"event_id": eventID, "text": text}, cfg.SegmentMax)
	}
}

// handleRisk runs risk_judge when riskSignals is non-empty, persists the
// risk_event, applies any learn_suggested hint per policy, and — for
// severities the policy gates on — asks the user whether to proceed.
// It returns true when the user declined, meaning the run should end
// blocked immediately.
func handleRisk(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, riskSignals []string) (bool, error) {
	if len(riskSignals) == 0 {
		return false, nil
	}

	prompt := fmt.Sprintf("Detected possible risk signals in this batch: %s", strings.Join(riskSignals, "; "))
	obj, _, state := deps.Mind.Call(deps.Schemas.get("risk_judge"), prompt, "risk_judge", batchID)
	if state != mindmediator.StateOK {
		return false, nil
	}
	rj := ParseRiskJudgeResult(obj)

	shouldAsk := cfg.Violation.RequiresConfirmation(rj.Severity) || rj.ShouldAskUser
	rec := logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindRiskEvent, batchID, st.threadID, map[string]any{
		"category": rj.Category, "severity": rj.Severity, "should_ask_user": shouldAsk,
		"mitigation": rj.Mitigation, "learn_suggested": rj.LearnSuggested, "signals": riskSignals,
	})
	overlay.AppendSegmentRecord(st.segment, checkpoint.RecordRisk, map[string]any{
		"event_id": rec.EventID, "text": rj.Category + ": " + rj.Mitigation,
	}, cfg.SegmentMax)

	for _, hint := range rj.LearnSuggested {
		applyLearnHint(deps, st, cfg, batchID, "risk_judge", hint)
	}

	if !shouldAsk || deps.Prompter == nil {
		return false, nil
	}
	question := fmt.Sprintf("Risk detected (%s/%s): %s\nMitigation: %s\nProceed?", rj.Category, rj.Severity, strings.Join(riskSignals, "; "), rj.Mitigation)
	bundleRecallForAsk(ctx, deps, st, cfg, batchID, "risk_confirmation", question)
	answer, err := deps.Prompter.Ask(ctx, question)
	if err != nil {
		return false, fmt.Errorf("ask user about risk: %w", err)
	}
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindUserInput, batchID, st.threadID, map[string]any{"question": question, "answer": answer})
	return !looksLikeYes(answer), nil
}

func looksLikeYes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "y" || a == "yes" || strings.HasPrefix(a, "proceed") || strings.HasPrefix(a, "continue")
}

func runWorkflowProgress(deps Deps, st *runState, cfg Config, batchID string, evidence Evidence) {
	active := st.registry.Get(st.overlay.WorkflowRun.WorkflowID)
	if active == nil {
		st.overlay.WorkflowRun.Active = false
		return
	}
	prompt := fmt.Sprintf("Workflow %q is active, current step %q. Facts this batch: %s\nActions: %s\nResults: %s",
		active.Name, st.overlay.WorkflowRun.NextStepID, strings.Join(evidence.Facts, "; "), strings.Join(evidence.Actions, "; "), strings.Join(evidence.Results, "; "))
	obj, _, state := deps.Mind.Call(deps.Schemas.get("workflow_progress"), prompt, "workflow_progress", batchID)
	if state != mindmediator.StateOK {
		return
	}
	update := workflowtrigger.ParseProgressUpdate(obj)
	workflowtrigger.Apply(&st.overlay.WorkflowRun, update)
	rec := logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindWorkflowProgress, batchID, st.threadID, map[string]any{
		"workflow_id":        active.ID,
		"completed_step_ids": st.overlay.WorkflowRun.CompletedStepIDs,
		"next_step_id":       st.overlay.WorkflowRun.NextStepID,
		"close_reason":       update.CloseReason,
	})
	if len(update.AdvanceCompletedStepIDs) > 0 || update.CloseReason != "" {
		overlay.AppendSegmentRecord(st.segment, checkpoint.RecordWorkflow, map[string]any{
			"event_id": rec.EventID,
			"text":     fmt.Sprintf("workflow %s advanced to %s", active.Name, st.overlay.WorkflowRun.NextStepID),
		}, cfg.SegmentMax)
	}
}

// runPreActionAndDecide implements spec.md §4.9's pre-action phase
// (plan_min_checks skip gate, testless-strategy resolution, auto_answer,
// arbitration) followed by decide_next and the loop-guard gate on whatever
// next_input decide_next produces.
func runPreActionAndDecide(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, signals preaction.Signals) (bool, string, string, error) {
	plan := runPlanMinChecks(ctx, deps, st, cfg, batchID, signals)

	var auto *preaction.AutoAnswerResult
	if preaction.LooksLikeQuestion(signals.LastHandsMessage) {
		prompt := fmt.Sprintf("Hands asked: %q\nWorkflow active: %t", signals.LastHandsMessage, st.overlay.WorkflowRun.Active)
		obj, _, state := deps.Mind.Call(deps.Schemas.get("auto_answer_to_hands"), prompt, "auto_answer_to_hands", batchID)
		if state == mindmediator.StateOK {
			a := preaction.ParseAutoAnswerResult(obj)
			auto = &a
			logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindAutoAnswer, batchID, st.threadID, map[string]any{
				"should_answer": a.ShouldAnswer, "hands_answer_input": a.HandsAnswerInput, "needs_user_input": a.NeedsUserInput, "ask_user_question": a.AskUserQuestion,
			})
		}
	}

	outcome := preaction.Arbitrate(plan, auto)
	switch outcome.Kind {
	case preaction.KindAskUser:
		return resolveAskUser(ctx, deps, st, cfg, batchID, outcome, plan)
	case preaction.KindQueueSkipDecide:
		if err := queueNextInput(ctx, deps, st, cfg, batchID, outcome.QueueText); err != nil {
			if blocked, ok := err.(errTerminalBlocked); ok {
				return true, StatusBlocked, blocked.notes, nil
			}
			return false, "", "", err
		}
		return false, "", "", nil
	default: // KindDecideNext
		return runDecideNext(ctx, deps, st, cfg, batchID)
	}
}

// runPlanMinChecks applies the §4.4.a skip rule, calls plan_min_checks when
// any trigger holds, and resolves the testless strategy (once per project)
// before re-planning when the plan asked for one.
func runPlanMinChecks(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, signals preaction.Signals) *preaction.PlanMinChecksResult {
	if preaction.ShouldSkipPlanMinChecks(signals) {
		logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindCheckPlan, batchID, st.threadID, map[string]any{
			"should_run_checks": false, "needs_testless_strategy": false, "hands_check_input": "",
			"notes": "skipped: no uncertainty/risk/question detected",
		})
		return nil
	}

	plan := callPlanMinChecks(deps, st, batchID, signals)
	if plan == nil || !plan.NeedsTestlessStrategy {
		return plan
	}

	if resolveTestlessStrategy(ctx, deps, st, cfg, batchID) {
		// Re-run plan_min_checks once so the plan incorporates the freshly
		// resolved strategy (spec.md §4.4.b).
		if replanned := callPlanMinChecks(deps, st, batchID, signals); replanned != nil {
			return replanned
		}
	}
	return plan
}

func callPlanMinChecks(deps Deps, st *runState, batchID string, signals preaction.Signals) *preaction.PlanMinChecksResult {
	prompt := fmt.Sprintf("Hands exit=%d unknowns=%v risk_signals=%v pending_git_changes=%t last_message=%q",
		signals.HandsExitCode, signals.Unknowns, signals.RiskSignals, signals.HasPendingGitChanges, signals.LastHandsMessage)
	if st.overlay.TestlessVerificationStrategy.ChosenOnce {
		prompt += fmt.Sprintf("\nTestless verification strategy: %q", st.overlay.TestlessVerificationStrategy.Strategy)
	}
	obj, _, state := deps.Mind.Call(deps.Schemas.get("plan_min_checks"), prompt, "plan_min_checks", batchID)
	if state != mindmediator.StateOK {
		return nil
	}
	p := preaction.ParsePlanMinChecksResult(obj)
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindCheckPlan, batchID, st.threadID, map[string]any{
		"should_run_checks": p.ShouldRunChecks, "needs_testless_strategy": p.NeedsTestlessStrategy,
		"hands_check_input": p.HandsCheckInput, "notes": p.Notes,
	})
	return &p
}

// resolveTestlessStrategy implements spec.md §4.4.b: first sync the overlay
// pointer from any existing mi:testless_verification_strategy claim; if
// still unresolved, ask the user exactly once per project, canonicalize the
// answer as a project-scope preference Claim, and mirror the pointer in
// ProjectOverlay. Reports whether a strategy is now resolved.
func resolveTestlessStrategy(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string) bool {
	if preaction.SyncTestlessPointerFromClaims(&st.overlay.TestlessVerificationStrategy, st.projectView, st.globalView) {
		return true
	}
	if deps.Prompter == nil {
		return false
	}

	question := "This project has no automated tests covering the change. How should changes be verified? (one-time choice, e.g. a smoke script or manual QA steps)"
	bundleRecallForAsk(ctx, deps, st, cfg, batchID, "testless_strategy_question", question)
	answer, err := deps.Prompter.Ask(ctx, question)
	if err != nil || strings.TrimSpace(answer) == "" {
		return false
	}
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindUserInput, batchID, st.threadID, map[string]any{"question": question, "answer": answer})

	preaction.ResolveTestlessChoice(&st.overlay.TestlessVerificationStrategy, answer, "chosen by the user")
	claim, err := deps.ProjectDB.AppendClaim(thoughtdb.Claim{
		ClaimType:  thoughtdb.ClaimPreference,
		Text:       answer,
		Scope:      thoughtdb.ScopeProject,
		Visibility: thoughtdb.VisibilityProject,
		Tags:       []string{thoughtdb.TagTestlessVerificationStrategy},
		Confidence: 1,
	})
	if err != nil {
		deps.logger().Error("append testless strategy claim failed", "error", err)
		return true
	}
	st.directClaimIDs = append(st.directClaimIDs, claim.ClaimID)
	return true
}

func resolveAskUser(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, outcome preaction.Outcome, plan *preaction.PlanMinChecksResult) (bool, string, string, error) {
	if deps.Prompter == nil {
		return true, StatusBlocked, "need user input but no prompter is configured", nil
	}
	bundleRecallForAsk(ctx, deps, st, cfg, batchID, "pre_action_ask_user", outcome.AskUserQuestion)
	answer, err := deps.Prompter.Ask(ctx, outcome.AskUserQuestion)
	if err != nil {
		return false, "", "", fmt.Errorf("ask user: %w", err)
	}
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindUserInput, batchID, st.threadID, map[string]any{"question": outcome.AskUserQuestion, "answer": answer})

	followup := preaction.ComposeAskUserFollowup(answer, plan)
	if err := queueNextInput(ctx, deps, st, cfg, batchID, followup); err != nil {
		if blocked, ok := err.(errTerminalBlocked); ok {
			return true, StatusBlocked, blocked.notes, nil
		}
		return false, "", "", err
	}
	return false, "", "", nil
}

// queueNextInput runs the loop-guard check before committing candidate as
// the next batch's input (spec.md §4.5). On a detected pattern it records a
// loop_guard event and either blocks outright (ask_when_uncertain=false) or
// asks Mind loop_break and applies the returned action.
func queueNextInput(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, candidate string) error {
	sig := loopguard.Signature(st.lastHandsMessage, candidate)
	st.loop.Push(sig)
	pattern := st.loop.Detect()
	if pattern == loopguard.PatternNone {
		st.nextInput = candidate
		return nil
	}

	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindLoopGuard, batchID, st.threadID, map[string]any{
		"pattern": string(pattern),
		"reason":  fmt.Sprintf("last %s interaction signatures repeat", pattern),
	})

	askWhenUncertain := thoughtdb.ResolveBoolDefault(st.projectView, st.globalView, thoughtdb.TagAskWhenUncertain, true)
	if !askWhenUncertain {
		st.nextInput = ""
		return errTerminalBlocked{notes: "loop_guard triggered: " + string(pattern) + " pattern with ask_when_uncertain=false"}
	}

	prompt := fmt.Sprintf("Loop pattern %q detected. Candidate next input: %q\nLast hands message: %q", pattern, candidate, st.lastHandsMessage)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("loop_break"), prompt, "loop_break", batchID)
	if state != mindmediator.StateOK {
		st.nextInput = ""
		return errTerminalBlocked{notes: "loop_guard triggered: " + string(pattern) + " pattern and loop_break could not be resolved"}
	}
	decision, err := loopguard.ParseDecision(obj)
	if err != nil {
		st.nextInput = ""
		return errTerminalBlocked{notes: "loop_guard triggered: " + string(pattern) + " pattern and loop_break returned an invalid decision"}
	}
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindLoopBreak, batchID, st.threadID, map[string]any{"action": string(decision.Action), "new_instruction": decision.NewInstruction})

	st.loop.Clear()
	switch decision.Action {
	case loopguard.ActionStop:
		return errTerminalBlocked{notes: "loop_break chose to stop"}
	case loopguard.ActionSendNewInstruction:
		st.nextInput = decision.NewInstruction
	case loopguard.ActionRunChecksThenContinue:
		st.nextInput = planChecksForLoopBreak(deps, st, batchID, candidate)
	case loopguard.ActionAskUser:
		if deps.Prompter == nil {
			return errTerminalBlocked{notes: "loop_break needs user input but no prompter is configured"}
		}
		loopQuestion := "The run appears stuck in a loop. How should it proceed?"
		bundleRecallForAsk(ctx, deps, st, cfg, batchID, "loop_break_ask_user", loopQuestion)
		answer, err := deps.Prompter.Ask(ctx, loopQuestion)
		if err != nil {
			return fmt.Errorf("ask user about loop break: %w", err)
		}
		logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindUserInput, batchID, st.threadID, map[string]any{"question": loopQuestion, "answer": answer})
		st.nextInput = answer
	default:
		st.nextInput = candidate
	}
	return nil
}

// planChecksForLoopBreak computes a fresh minimal-checks plan for the
// loop_break run_checks_then_continue action (spec.md §4.5) and returns its
// hands_check_input, falling back to the stalled candidate when planning
// produced nothing usable.
func planChecksForLoopBreak(deps Deps, st *runState, batchID, candidate string) string {
	prompt := fmt.Sprintf("A loop was detected; plan minimal verification checks before continuing. Last hands message: %q", st.lastHandsMessage)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("plan_min_checks"), prompt, "plan_min_checks", batchID)
	if state != mindmediator.StateOK {
		return candidate
	}
	p := preaction.ParsePlanMinChecksResult(obj)
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindCheckPlan, batchID, st.threadID, map[string]any{
		"should_run_checks": p.ShouldRunChecks, "needs_testless_strategy": p.NeedsTestlessStrategy,
		"hands_check_input": p.HandsCheckInput, "notes": p.Notes,
	})
	if strings.TrimSpace(p.HandsCheckInput) == "" {
		return candidate
	}
	return p.HandsCheckInput
}

// errTerminalBlocked is the sentinel the queueNextInput chain raises when
// the loop guard decides the run must end blocked; callers translate it
// into a terminal (true, StatusBlocked, notes) result instead of a Go error.
type errTerminalBlocked struct{ notes string }

func (e errTerminalBlocked) Error() string { return e.notes }

func runDecideNext(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string) (bool, string, string, error) {
	prompt := fmt.Sprintf("Decide the next action for batch %s. Last hands message: %q", batchID, st.lastHandsMessage)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("decide_next"), prompt, "decide_next", batchID)
	if state == mindmediator.StateSkipped {
		return true, StatusBlocked, "decide_next skipped (circuit breaker open)", nil
	}
	if state != mindmediator.StateOK {
		return true, StatusBlocked, "decide_next failed", nil
	}
	decision := preaction.ParseDecideNextResult(obj)

	decideRec := logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindDecideNext, batchID, st.threadID, map[string]any{
		"next_action": decision.NextAction, "status": decision.Status, "confidence": decision.Confidence,
		"next_hands_input": decision.NextHandsInput, "ask_user_question": decision.AskUserQuestion,
		"update_project_overlay": decision.UpdateProjectOverlay, "learn_suggested": decision.LearnSuggested,
		"notes": decision.Notes,
	})
	overlay.AppendSegmentRecord(st.segment, checkpoint.RecordDecision, map[string]any{
		"event_id": decideRec.EventID, "text": decisionText(decision),
	}, cfg.SegmentMax)
	st.lastTarget = whytrace.Target{EventID: decideRec.EventID, Kind: "decide_next"}

	for _, hint := range decision.LearnSuggested {
		applyLearnHint(deps, st, cfg, batchID, "decide_next", hint)
	}
	if len(decision.UpdateProjectOverlay) > 0 {
		applyOverlayUpdate(deps, st, decision.UpdateProjectOverlay)
	}

	switch decision.NextAction {
	case preaction.NextActionStop:
		status := decision.Status
		if status == "" {
			status = StatusDone
		}
		return true, status, decision.Notes, nil
	case preaction.NextActionSendToHands:
		if err := queueNextInput(ctx, deps, st, cfg, batchID, decision.NextHandsInput); err != nil {
			if blocked, ok := err.(errTerminalBlocked); ok {
				return true, StatusBlocked, blocked.notes, nil
			}
			return false, "", "", err
		}
		return false, "", "", nil
	case preaction.NextActionAskUser:
		return decideNextAskUser(ctx, deps, st, cfg, batchID, decision)
	default:
		return true, StatusBlocked, "decide_next returned an unrecognized next_action", nil
	}
}

func decisionText(d preaction.DecideNextResult) string {
	if d.Notes != "" {
		return d.NextAction + ": " + d.Notes
	}
	return d.NextAction
}

// decideNextAskUser implements decide_next's ask_user sub-flow
// (spec.md §4.4.e): one more auto-answer pass on the question after another
// recall; if that still needs user input, prompt the user; then re-invoke
// decide_next exactly once with the collected input, with no Hands
// invocation in between.
func decideNextAskUser(ctx context.Context, deps Deps, st *runState, cfg Config, batchID string, decision preaction.DecideNextResult) (bool, string, string, error) {
	bundleRecallForAsk(ctx, deps, st, cfg, batchID, "decide_next_ask_user", decision.AskUserQuestion)

	collected := ""
	autoPrompt := fmt.Sprintf("decide_next wants to ask the user: %q. Can this be answered without the user?", decision.AskUserQuestion)
	obj, _, state := deps.Mind.Call(deps.Schemas.get("auto_answer_to_hands"), autoPrompt, "auto_answer_to_hands", batchID)
	if state == mindmediator.StateOK {
		a := preaction.ParseAutoAnswerResult(obj)
		logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindAutoAnswer, batchID, st.threadID, map[string]any{
			"should_answer": a.ShouldAnswer, "hands_answer_input": a.HandsAnswerInput, "needs_user_input": a.NeedsUserInput, "ask_user_question": a.AskUserQuestion,
		})
		if a.ShouldAnswer && !a.NeedsUserInput {
			collected = a.HandsAnswerInput
		}
	}

	if collected == "" {
		if deps.Prompter == nil {
			return true, StatusBlocked, "decide_next needs user input but no prompter is configured", nil
		}
		answer, err := deps.Prompter.Ask(ctx, decision.AskUserQuestion)
		if err != nil {
			return false, "", "", fmt.Errorf("ask user for decide_next: %w", err)
		}
		logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindUserInput, batchID, st.threadID, map[string]any{"question": decision.AskUserQuestion, "answer": answer})
		collected = answer
	}

	redecidePrompt := fmt.Sprintf("decide_next asked %q and the collected input is %q. Decide the next action.", decision.AskUserQuestion, collected)
	obj, _, state = deps.Mind.Call(deps.Schemas.get("decide_next"), redecidePrompt, "decide_next", batchID+".after_user")
	if state != mindmediator.StateOK {
		return true, StatusBlocked, "decide_next re-invocation after ask_user failed", nil
	}
	redo := preaction.ParseDecideNextResult(obj)
	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindDecideNext, batchID+".after_user", st.threadID, map[string]any{
		"next_action": redo.NextAction, "status": redo.Status, "confidence": redo.Confidence,
		"next_hands_input": redo.NextHandsInput, "notes": redo.Notes,
	})
	switch redo.NextAction {
	case preaction.NextActionStop:
		status := redo.Status
		if status == "" {
			status = StatusDone
		}
		return true, status, redo.Notes, nil
	case preaction.NextActionSendToHands:
		if err := queueNextInput(ctx, deps, st, cfg, batchID, redo.NextHandsInput); err != nil {
			if blocked, ok := err.(errTerminalBlocked); ok {
				return true, StatusBlocked, blocked.notes, nil
			}
			return false, "", "", err
		}
		return false, "", "", nil
	default:
		return true, StatusBlocked, "decide_next asked a second question in a row", nil
	}
}

func applyOverlayUpdate(deps Deps, st *runState, patch map[string]any) {
	if strategy, ok := patch["testless_verification_strategy"].(string); ok && strategy != "" {
		preaction.ResolveTestlessChoice(&st.overlay.TestlessVerificationStrategy, strategy, "")
	}
	if stack, ok := patch["stack_hints"].([]any); ok {
		for _, v := range stack {
			if s, ok := v.(string); ok {
				st.overlay.StackHints = append(st.overlay.StackHints, s)
			}
		}
	}
}
