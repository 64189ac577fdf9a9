package preaction

// PlanMinChecksResult is Mind's parsed plan_min_checks response
// (spec.md §4.4.a: `{should_run_checks, needs_testless_strategy,
// hands_check_input, notes}`).
type PlanMinChecksResult struct {
	ShouldRunChecks       bool
	NeedsTestlessStrategy bool
	HandsCheckInput       string
	Notes                 string
}

// ParsePlanMinChecksResult extracts a PlanMinChecksResult from Mind's raw
// response object. Missing fields default to their zero value; this call
// never fails since every field is optional from the caller's point of
// view (an absent should_run_checks just means false).
func ParsePlanMinChecksResult(obj map[string]any) PlanMinChecksResult {
	var r PlanMinChecksResult
	r.ShouldRunChecks, _ = obj["should_run_checks"].(bool)
	r.NeedsTestlessStrategy, _ = obj["needs_testless_strategy"].(bool)
	r.HandsCheckInput, _ = obj["hands_check_input"].(string)
	r.Notes, _ = obj["notes"].(string)
	return r
}
