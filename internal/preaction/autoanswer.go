package preaction

// AutoAnswerResult is Mind's parsed auto_answer_to_hands response
// (spec.md §4.4.c: `{should_answer, hands_answer_input, needs_user_input,
// ask_user_question, unanswered_questions}`).
type AutoAnswerResult struct {
	ShouldAnswer        bool
	HandsAnswerInput    string
	NeedsUserInput      bool
	AskUserQuestion     string
	UnansweredQuestions []string
}

// ParseAutoAnswerResult extracts an AutoAnswerResult from Mind's raw
// response object.
func ParseAutoAnswerResult(obj map[string]any) AutoAnswerResult {
	var r AutoAnswerResult
	r.ShouldAnswer, _ = obj["should_answer"].(bool)
	r.HandsAnswerInput, _ = obj["hands_answer_input"].(string)
	r.NeedsUserInput, _ = obj["needs_user_input"].(bool)
	r.AskUserQuestion, _ = obj["ask_user_question"].(string)
	if raw, ok := obj["unanswered_questions"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				r.UnansweredQuestions = append(r.UnansweredQuestions, s)
			}
		}
	}
	return r
}
