package orchestrator

// RiskJudgeResult is Mind's parsed risk_judge response (spec.md §4.9
// step 3 "run risk_judge").
type RiskJudgeResult struct {
	Category       string
	Severity       string
	ShouldAskUser  bool
	Mitigation     string
	LearnSuggested []map[string]any
}

// ParseRiskJudgeResult extracts a RiskJudgeResult from Mind's raw
// risk_judge response object.
func ParseRiskJudgeResult(obj map[string]any) RiskJudgeResult {
	var r RiskJudgeResult
	r.Category, _ = obj["category"].(string)
	r.Severity, _ = obj["severity"].(string)
	r.ShouldAskUser, _ = obj["should_ask_user"].(bool)
	r.Mitigation, _ = obj["mitigation"].(string)
	r.LearnSuggested = hintList(obj["learn_suggested"])
	return r
}

// hintList accepts learn_suggested as either a list of hint objects or a
// single hint object (providers vary between the two shapes).
func hintList(v any) []map[string]any {
	switch raw := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{raw}
	default:
		return nil
	}
}

// ViolationResponsePolicy governs what happens after a risk_judge call
// (spec.md §4.9 step 3 "controlled by violation_response policy"):
// whether suggested claims are learned automatically, and which
// severities require a user confirmation before the batch continues.
type ViolationResponsePolicy struct {
	AutoLearn         bool
	ConfirmOnSeverity []string
}

// RequiresConfirmation reports whether severity is one of the policy's
// confirm-gated severities.
func (p ViolationResponsePolicy) RequiresConfirmation(severity string) bool {
	for _, s := range p.ConfirmOnSeverity {
		if s == severity {
			return true
		}
	}
	return false
}
