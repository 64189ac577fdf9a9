package orchestrator

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// LightInjection carries the resolved operational defaults and value
// pointers a batch's prompt is prefixed with (spec.md §4.9 step 1 "compose
// light_injection (operational defaults + values pointers)").
type LightInjection struct {
	AskWhenUncertain bool
	RefactorIntent   string
	TestlessStrategy string
	WorkflowActive   bool
	WorkflowID       string
	NextStepID       string
}

// BuildLightInjection resolves operational defaults from the project and
// global Thought DB views (project taking precedence) and folds in the
// overlay's live workflow cursor.
func BuildLightInjection(projectView, globalView *thoughtdb.View, ov *overlay.ProjectOverlay) LightInjection {
	li := LightInjection{
		AskWhenUncertain: thoughtdb.ResolveBoolDefault(projectView, globalView, thoughtdb.TagAskWhenUncertain, true),
	}
	li.RefactorIntent, _ = thoughtdb.ResolveStringDefault(projectView, globalView, thoughtdb.TagRefactorIntent)
	if ov != nil {
		li.TestlessStrategy = ov.TestlessVerificationStrategy.Strategy
		li.WorkflowActive = ov.WorkflowRun.Active
		li.WorkflowID = ov.WorkflowRun.WorkflowID
		li.NextStepID = ov.WorkflowRun.NextStepID
	}
	return li
}

// Render composes li into the text block prepended to every Hands prompt.
func (li LightInjection) Render() string {
	var b strings.Builder
	b.WriteString("[mi light_injection]\n")
	fmt.Fprintf(&b, "ask_when_uncertain: %t\n", li.AskWhenUncertain)
	if li.RefactorIntent != "" {
		fmt.Fprintf(&b, "refactor_intent: %s\n", li.RefactorIntent)
	}
	if li.TestlessStrategy != "" {
		fmt.Fprintf(&b, "testless_verification_strategy: %s\n", li.TestlessStrategy)
	}
	if li.WorkflowActive {
		fmt.Fprintf(&b, "workflow_active: %s step=%s\n", li.WorkflowID, li.NextStepID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ComposePrompt prefixes nextInput with li's rendered block, matching
// spec.md §4.9 step 1's "light_injection + next_input → Hands".
func ComposePrompt(li LightInjection, nextInput string) string {
	rendered := li.Render()
	if rendered == "" {
		return nextInput
	}
	return rendered + "\n\n" + nextInput
}
