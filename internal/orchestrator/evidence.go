package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/hands"
)

// Evidence is Mind's parsed extract_evidence response (spec.md §4.9 step 3
// "extract evidence").
type Evidence struct {
	Facts       []string
	Actions     []string
	Results     []string
	Unknowns    []string
	RiskSignals []string
	Notes       string
}

// ParseEvidence extracts an Evidence from Mind's raw extract_evidence
// response object.
func ParseEvidence(obj map[string]any) Evidence {
	var e Evidence
	e.Facts = stringSlice(obj["facts"])
	e.Actions = stringSlice(obj["actions"])
	e.Results = stringSlice(obj["results"])
	e.Unknowns = stringSlice(obj["unknowns"])
	e.RiskSignals = stringSlice(obj["risk_signals"])
	e.Notes, _ = obj["notes"].(string)
	return e
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// riskSubstrings mirrors hands.InterruptOnHighRisk's detection list: the
// same commands worth interrupting Hands over are worth flagging to
// risk_judge (spec.md §4.1, §4.9 step 3).
var riskSubstrings = []string{
	"git push", "rm -rf", "sudo ", "curl | sh", "wget | sh",
}

// DetectRiskSignalsFromEvents scans a Hands run's structured events for
// command_execution items matching the high-risk substrings, the
// events-first source spec.md §4.9 step 3 names.
func DetectRiskSignalsFromEvents(events []hands.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind != "item.started" && ev.Kind != "item.completed" {
			continue
		}
		if ev.ItemType != "command_execution" {
			continue
		}
		cmd := commandOf(ev)
		if cmd == "" {
			continue
		}
		if hands.MatchesInterruptMode(hands.InterruptOnHighRisk, cmd) {
			out = append(out, cmd)
		}
	}
	return out
}

func commandOf(ev hands.Event) string {
	var raw map[string]any
	if json.Unmarshal(ev.Raw, &raw) != nil {
		return ""
	}
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return ""
	}
	cmd, _ := item["command"].(string)
	return cmd
}

// DetectRiskSignalsFromTranscript is the regex-style fallback used when a
// Hands run produced no structured events to scan (the CLI adapter
// variant, spec.md §4.1 "Events[] is empty"): a plain substring scan of
// the raw transcript text against the same high-risk list.
func DetectRiskSignalsFromTranscript(transcript string) []string {
	lower := strings.ToLower(transcript)
	var out []string
	for _, sub := range riskSubstrings {
		if strings.Contains(lower, sub) {
			out = append(out, sub)
		}
	}
	return out
}
