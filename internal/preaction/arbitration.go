package preaction

import "strings"

// Kind is the deterministic arbitration outcome (spec.md §4.4.d).
type Kind string

const (
	// KindAskUser means: prompt the user (after a recall pass seeded by
	// the question); decide_next does not run this batch.
	KindAskUser Kind = "ask_user"
	// KindQueueSkipDecide means: queue QueueText as next input;
	// decide_next does not run this batch.
	KindQueueSkipDecide Kind = "queue_skip_decide"
	// KindDecideNext means: proceed to decide_next.
	KindDecideNext Kind = "decide_next"
)

// Outcome is the result of Arbitrate.
type Outcome struct {
	Kind            Kind
	QueueText       string
	AskUserQuestion string
}

// Arbitrate implements spec.md §4.4.d's deterministic arbitration order.
// plan may be nil when plan_min_checks was skipped (spec.md §4.4.a); auto
// may be nil when the last Hands message didn't look like a question and
// auto_answer_to_hands was never asked.
func Arbitrate(plan *PlanMinChecksResult, auto *AutoAnswerResult) Outcome {
	if auto != nil && auto.NeedsUserInput {
		return Outcome{Kind: KindAskUser, AskUserQuestion: auto.AskUserQuestion}
	}

	shouldAnswer := auto != nil && auto.ShouldAnswer
	shouldRunChecks := plan != nil && plan.ShouldRunChecks
	if shouldAnswer || shouldRunChecks {
		var parts []string
		if shouldAnswer && strings.TrimSpace(auto.HandsAnswerInput) != "" {
			parts = append(parts, auto.HandsAnswerInput)
		}
		if shouldRunChecks && strings.TrimSpace(plan.HandsCheckInput) != "" {
			parts = append(parts, plan.HandsCheckInput)
		}
		return Outcome{Kind: KindQueueSkipDecide, QueueText: strings.Join(parts, "\n\n")}
	}

	return Outcome{Kind: KindDecideNext}
}

// ComposeAskUserFollowup joins the user's answer with hands_check_input
// (when checks are still pending) into the next Hands input, per spec.md
// §4.4.d's ask_user branch: "queue answer + hands_check_input (if checks)
// as next input".
func ComposeAskUserFollowup(answer string, plan *PlanMinChecksResult) string {
	parts := []string{answer}
	if plan != nil && plan.ShouldRunChecks && strings.TrimSpace(plan.HandsCheckInput) != "" {
		parts = append(parts, plan.HandsCheckInput)
	}
	return strings.Join(parts, "\n\n")
}
