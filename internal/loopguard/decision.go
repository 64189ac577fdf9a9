package loopguard

import "fmt"

// Action is one of the recognized loop_break actions (spec.md §4.5).
type Action string

const (
	ActionStop                   Action = "stop"
	ActionRunChecksThenContinue  Action = "run_checks_then_continue"
	ActionSendNewInstruction     Action = "send_new_instruction"
	ActionAskUser                Action = "ask_user"
)

// Decision is the parsed result of a Mind loop_break call.
type Decision struct {
	Action         Action
	NewInstruction string
}

// ParseDecision extracts a Decision from Mind's raw loop_break response
// object. An unrecognized or missing action is reported as an error; the
// caller should treat that the same as a breaker-open/skip outcome (fall
// back to status=blocked without asking, spec.md §4.5's "false" branch).
func ParseDecision(obj map[string]any) (Decision, error) {
	raw, _ := obj["action"].(string)
	action := Action(raw)
	switch action {
	case ActionStop, ActionRunChecksThenContinue, ActionAskUser:
		return Decision{Action: action}, nil
	case ActionSendNewInstruction:
		instr, _ := obj["new_instruction"].(string)
		if instr == "" {
			return Decision{}, fmt.Errorf("loop_break: send_new_instruction without new_instruction")
		}
		return Decision{Action: action, NewInstruction: instr}, nil
	default:
		return Decision{}, fmt.Errorf("loop_break: unrecognized action %q", raw)
	}
}
