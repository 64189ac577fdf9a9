package orchestrator

import (
	"github.com/antigravity-dev/mind-incarnation/internal/checkpoint"
	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// applyLearnHint commits (or defers) one learn_suggested hint surfaced by
// risk_judge or decide_next (spec.md §3's `learn_suggested` record,
// §4.9 step 3/5 "apply learn-suggested"). Whether the hint is applied
// immediately as a Claim or only recorded as a PreferenceCandidate is
// governed by cfg.Violation.AutoLearn, the single violation_response
// policy spec.md §4.9 names — the same knob scenario 3 in spec.md §8
// exercises for decide_next.learn_suggested.
func applyLearnHint(deps Deps, st *runState, cfg Config, batchID, source string, hint map[string]any) {
	text, _ := hint["text"].(string)
	if text == "" {
		return
	}
	scope, _ := hint["scope"].(string)
	if scope == "" {
		scope = thoughtdb.ScopeProject
	}
	visibility, _ := hint["visibility"].(string)
	if visibility == "" {
		if scope == thoughtdb.ScopeGlobal {
			visibility = thoughtdb.VisibilityGlobal
		} else {
			visibility = thoughtdb.VisibilityProject
		}
	}
	var tags []string
	if raw, ok := hint["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	var sourceEventIDs []string
	if raw, ok := hint["source_event_ids"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				sourceEventIDs = append(sourceEventIDs, s)
			}
		}
	}
	confidence, _ := hint["confidence"].(float64)

	pref := checkpoint.SuggestedPreference{
		Text:           text,
		Scope:          scope,
		Visibility:     visibility,
		Tags:           tags,
		Confidence:     confidence,
		AutoLearn:      cfg.Violation.AutoLearn,
		SourceEventIDs: sourceEventIDs,
	}

	claimID, err := checkpoint.ApplyPreference(deps.ProjectDB, deps.Paths.PreferenceCandidates(), pref)
	var appliedClaimIDs []string
	if err == nil && claimID != "" {
		appliedClaimIDs = append(appliedClaimIDs, claimID)
		st.directClaimIDs = append(st.directClaimIDs, claimID)
	}

	logAppend(deps.ProjectLog, deps.logger(), evidencelog.KindLearnSuggested, batchID, st.threadID, map[string]any{
		"source":            source,
		"auto_learn":        cfg.Violation.AutoLearn,
		"learn_suggested":   hint,
		"applied_claim_ids": appliedClaimIDs,
	})
	st.newLearnSuggestions++
}
