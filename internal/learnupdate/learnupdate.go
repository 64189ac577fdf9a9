// Package learnupdate implements the run-end learn_update consolidation
// step: deciding whether enough new signal accumulated this run to ask
// Mind for a bounded patch of new claims and retractions, then applying it
// (spec.md §4.8).
package learnupdate

import "github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"

// Thresholds gates whether learn_update is even asked this run.
type Thresholds struct {
	MinNewSuggestionsPerRun int
	MinActiveLearnedClaims  int
	MaxClaims               int
	MaxRetracts             int
	MinConfidence           float64
}

// ShouldRun reports whether enough signal accumulated this run to invoke
// learn_update: at least MinNewSuggestionsPerRun learn-suggested records
// this run, and at least MinActiveLearnedClaims mi-tagged preference
// claims already exist (spec.md §4.8).
func ShouldRun(t Thresholds, newSuggestionsThisRun, activeLearnedClaims int) bool {
	return newSuggestionsThisRun >= t.MinNewSuggestionsPerRun &&
		activeLearnedClaims >= t.MinActiveLearnedClaims
}

// Patch is Mind's parsed learn_update response: a bounded set of new
// claims (reusing thoughtdb.MinedOutput's shape) plus claim ids to retract.
type Patch struct {
	Claims   []thoughtdb.MinedClaim
	Retracts []Retract
}

// Retract names one claim to retract, with a reason.
type Retract struct {
	ClaimID string
	Reason  string
}

// ParsePatch extracts a Patch from Mind's raw learn_update response object,
// clamping Claims/Retracts to t.MaxClaims/t.MaxRetracts and dropping any
// claim whose confidence is below t.MinConfidence (spec.md §4.8 "strict
// bounds on max_claims, max_retracts, min_confidence").
func ParsePatch(obj map[string]any, t Thresholds) Patch {
	var p Patch
	if raw, ok := obj["claims"].([]any); ok {
		for _, v := range raw {
			if len(p.Claims) >= t.MaxClaims {
				break
			}
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			var c thoughtdb.MinedClaim
			c.LocalID, _ = m["local_id"].(string)
			c.ClaimType, _ = m["claim_type"].(string)
			c.Text, _ = m["text"].(string)
			c.Scope, _ = m["scope"].(string)
			c.Visibility, _ = m["visibility"].(string)
			c.Confidence, _ = m["confidence"].(float64)
			if tags, ok := m["tags"].([]any); ok {
				for _, tg := range tags {
					if s, ok := tg.(string); ok {
						c.Tags = append(c.Tags, s)
					}
				}
			}
			if refs, ok := m["source_event_ids"].([]any); ok {
				for _, r := range refs {
					if s, ok := r.(string); ok {
						c.SourceEventIDs = append(c.SourceEventIDs, s)
					}
				}
			}
			if c.Confidence < t.MinConfidence {
				continue
			}
			p.Claims = append(p.Claims, c)
		}
	}
	if raw, ok := obj["retracts"].([]any); ok {
		for _, v := range raw {
			if len(p.Retracts) >= t.MaxRetracts {
				break
			}
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			var r Retract
			r.ClaimID, _ = m["claim_id"].(string)
			r.Reason, _ = m["reason"].(string)
			if r.ClaimID != "" {
				p.Retracts = append(p.Retracts, r)
			}
		}
	}
	return p
}

// Applied reports what Apply actually committed, mirroring
// thoughtdb.ApplyResult's shape for the combined claims+retracts patch.
type Applied struct {
	thoughtdb.ApplyResult
	RetractedIDs []string
}

// Apply commits p: new claims/edges via thoughtdb.ApplyMinedOutput, then
// one claim_retract record per p.Retracts (spec.md §4.8 "apply via
// apply_mined_output and append_claim_retract").
func Apply(db *thoughtdb.DB, p Patch, opts thoughtdb.ApplyOptions) (Applied, error) {
	result, err := db.ApplyMinedOutput(thoughtdb.MinedOutput{Claims: p.Claims}, opts)
	if err != nil {
		return Applied{}, err
	}
	applied := Applied{ApplyResult: result}
	for _, r := range p.Retracts {
		if _, err := db.AppendClaimRetract(r.ClaimID, r.Reason); err != nil {
			return applied, err
		}
		applied.RetractedIDs = append(applied.RetractedIDs, r.ClaimID)
	}
	return applied, nil
}
