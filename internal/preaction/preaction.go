// Package preaction implements the pre-action phase: the plan_min_checks
// skip rule, the "looks like a question" heuristic, testless-strategy
// resolution, auto-answer parsing, and the deterministic arbitration order
// that decides whether decide_next runs at all this batch (spec.md §4.4).
package preaction

import "strings"

// Signals is the evidence plan_min_checks' skip rule inspects.
type Signals struct {
	HandsExitCode        int
	Unknowns             []string
	RiskSignals          []string
	LastHandsMessage     string
	HasPendingGitChanges bool
}

// ShouldSkipPlanMinChecks reports whether none of the conditions that
// trigger plan_min_checks hold (spec.md §4.4.a): a nonzero Hands exit code, any
// unknowns, any risk signals, a Hands message that looks like a user
// question, or a nonempty git status/diff stat.
func ShouldSkipPlanMinChecks(s Signals) bool {
	if s.HandsExitCode != 0 {
		return false
	}
	if len(s.Unknowns) > 0 {
		return false
	}
	if len(s.RiskSignals) > 0 {
		return false
	}
	if LooksLikeQuestion(s.LastHandsMessage) {
		return false
	}
	if s.HasPendingGitChanges {
		return false
	}
	return true
}

// questionPhrases are the fixed phrase set the heuristic checks in addition
// to a literal "?" (spec.md §4.4.c).
var questionPhrases = []string{
	"do you want",
	"please confirm",
	"should i",
	"would you like",
	"can you confirm",
	"let me know if",
}

// LooksLikeQuestion implements the "looks like a user question" heuristic
// shared by plan_min_checks' skip rule and auto_answer_to_hands' gate:
// contains "?" or any of a fixed set of phrases (spec.md §4.4).
func LooksLikeQuestion(message string) bool {
	if strings.Contains(message, "?") {
		return true
	}
	lower := strings.ToLower(message)
	for _, p := range questionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
