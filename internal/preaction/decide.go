package preaction

// DecideNextResult is Mind's parsed decide_next response (spec.md §4.4.e:
// `{next_action, status, confidence, next_hands_input, ask_user_question,
// update_project_overlay, learn_suggested, notes}`).
type DecideNextResult struct {
	NextAction           string
	Status               string
	Confidence           float64
	NextHandsInput       string
	AskUserQuestion      string
	UpdateProjectOverlay map[string]any
	LearnSuggested       []map[string]any
	Notes                string
}

const (
	NextActionStop        = "stop"
	NextActionSendToHands = "send_to_hands"
	NextActionAskUser     = "ask_user"
)

// ParseDecideNextResult extracts a DecideNextResult from Mind's raw
// response object.
func ParseDecideNextResult(obj map[string]any) DecideNextResult {
	var r DecideNextResult
	r.NextAction, _ = obj["next_action"].(string)
	r.Status, _ = obj["status"].(string)
	r.Confidence, _ = obj["confidence"].(float64)
	r.NextHandsInput, _ = obj["next_hands_input"].(string)
	r.AskUserQuestion, _ = obj["ask_user_question"].(string)
	r.UpdateProjectOverlay, _ = obj["update_project_overlay"].(map[string]any)
	switch raw := obj["learn_suggested"].(type) {
	case []any:
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				r.LearnSuggested = append(r.LearnSuggested, m)
			}
		}
	case map[string]any:
		r.LearnSuggested = []map[string]any{raw}
	}
	r.Notes, _ = obj["notes"].(string)
	return r
}
