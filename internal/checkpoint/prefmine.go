package checkpoint

import (
	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// SuggestedPreference is one entry of Mind's parsed mine_preferences
// response.
type SuggestedPreference struct {
	Text           string
	Scope          string
	Visibility     string
	Tags           []string
	Confidence     float64
	AutoLearn      bool
	SourceEventIDs []string
}

// ParseSuggestedPreferences extracts the list of suggested preferences
// from Mind's raw mine_preferences response object (expects a
// `preferences` array of objects shaped like SuggestedPreference's
// fields).
func ParseSuggestedPreferences(obj map[string]any) []SuggestedPreference {
	raw, ok := obj["preferences"].([]any)
	if !ok {
		return nil
	}
	out := make([]SuggestedPreference, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		var p SuggestedPreference
		p.Text, _ = m["text"].(string)
		p.Scope, _ = m["scope"].(string)
		p.Visibility, _ = m["visibility"].(string)
		p.AutoLearn, _ = m["auto_learn"].(bool)
		p.Confidence, _ = m["confidence"].(float64)
		if tags, ok := m["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					p.Tags = append(p.Tags, s)
				}
			}
		}
		if refs, ok := m["source_event_ids"].([]any); ok {
			for _, r := range refs {
				if s, ok := r.(string); ok {
					p.SourceEventIDs = append(p.SourceEventIDs, s)
				}
			}
		}
		if p.Text != "" {
			out = append(out, p)
		}
	}
	return out
}

// Signature is the dedup key spec.md §4.7 step 3 calls a "preference
// signature": normalized text within scope.
func (p SuggestedPreference) Signature(projectID string) string {
	return idgen.ClaimSignature(thoughtdb.ClaimPreference, p.Scope, projectID, p.Text)
}

// DedupePreferences drops suggestions whose signature has already been
// seen this run, recording each new signature into seen.
func DedupePreferences(prefs []SuggestedPreference, projectID string, seen map[string]bool) []SuggestedPreference {
	out := make([]SuggestedPreference, 0, len(prefs))
	for _, p := range prefs {
		sig := p.Signature(projectID)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, p)
	}
	return out
}

// ApplyPreference commits one suggested preference via apply_learn_suggested
// (spec.md §4.7 step 3): auto_learn=true writes a preference Claim directly;
// otherwise it is recorded as a PreferenceCandidate for later manual apply.
// Returns the appended claim id when one was written, or "" when only a
// candidate was recorded.
func ApplyPreference(db *thoughtdb.DB, candidatesPath string, p SuggestedPreference) (claimID string, err error) {
	if p.AutoLearn {
		var refs []thoughtdb.SourceRef
		for _, id := range p.SourceEventIDs {
			refs = append(refs, thoughtdb.SourceRef{EventID: id})
		}
		c, err := db.AppendClaim(thoughtdb.Claim{
			ClaimType:  thoughtdb.ClaimPreference,
			Text:       p.Text,
			Scope:      p.Scope,
			Visibility: p.Visibility,
			Tags:       p.Tags,
			Confidence: p.Confidence,
			SourceRefs: refs,
		})
		if err != nil {
			return "", err
		}
		return c.ClaimID, nil
	}

	cands, err := thoughtdb.LoadPreferenceCandidates(candidatesPath)
	if err != nil {
		return "", err
	}
	cands = append(cands, thoughtdb.NewPreferenceCandidate(
		thoughtdb.ClaimPreference, p.Scope, p.Visibility, p.Text, p.Tags, p.SourceEventIDs, p.Confidence,
	))
	if err := thoughtdb.SavePreferenceCandidates(candidatesPath, cands); err != nil {
		return "", err
	}
	return "", nil
}
