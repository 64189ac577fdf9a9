package thoughtdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
)

// PreferenceCandidate is one unapplied learn-suggested preference, persisted
// to candidates/preferences.json (spec.md §6 file layout) when
// auto_learn=false so a human can apply it later via the out-of-core
// `mi learned apply-suggested <id>` CLI operation (SPEC_FULL.md §C.6).
type PreferenceCandidate struct {
	ID             string   `json:"id"`
	ClaimType      string   `json:"claim_type"`
	Scope          string   `json:"scope"`
	Visibility     string   `json:"visibility"`
	Text           string   `json:"text"`
	Tags           []string `json:"tags,omitempty"`
	Confidence     float64  `json:"confidence"`
	SourceEventIDs []string `json:"source_event_ids"`
	Applied        bool     `json:"applied"`
	AppliedClaimID string   `json:"applied_claim_id,omitempty"`
}

type candidateFile struct {
	Preferences []PreferenceCandidate `json:"preferences"`
}

// LoadPreferenceCandidates reads candidates/preferences.json, defaulting to
// an empty list on missing or corrupt JSON.
func LoadPreferenceCandidates(path string) ([]PreferenceCandidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("thoughtdb: read %s: %w", path, err)
	}
	var f candidateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil
	}
	return f.Preferences, nil
}

// SavePreferenceCandidates writes cands atomically.
func SavePreferenceCandidates(path string, cands []PreferenceCandidate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("thoughtdb: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(candidateFile{Preferences: cands}, "", "  ")
	if err != nil {
		return fmt.Errorf("thoughtdb: marshal candidates: %w", err)
	}
	b = append(b, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("thoughtdb: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("thoughtdb: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("thoughtdb: close temp: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// NewPreferenceCandidate stamps a fresh candidate id.
func NewPreferenceCandidate(claimType, scope, visibility, text string, tags, sourceEventIDs []string, confidence float64) PreferenceCandidate {
	return PreferenceCandidate{
		ID:             idgen.LearnSuggestion(),
		ClaimType:      claimType,
		Scope:          scope,
		Visibility:     visibility,
		Text:           text,
		Tags:           tags,
		Confidence:     confidence,
		SourceEventIDs: sourceEventIDs,
	}
}

// ApplySuggestedLearn is the store-level half of `mi learned apply-suggested
// <id>`: it looks suggestionID up in candidatesPath, appends the
// corresponding preference Claim, marks the candidate applied, and persists
// the candidate file (SPEC_FULL.md §C.6). An already-applied or unknown id
// is an error.
func (db *DB) ApplySuggestedLearn(candidatesPath, suggestionID string, allowedEventIDs map[string]bool) (Claim, error) {
	cands, err := LoadPreferenceCandidates(candidatesPath)
	if err != nil {
		return Claim{}, err
	}

	idx := -1
	for i, c := range cands {
		if c.ID == suggestionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Claim{}, fmt.Errorf("thoughtdb: no preference candidate %q", suggestionID)
	}
	if cands[idx].Applied {
		return Claim{}, fmt.Errorf("thoughtdb: preference candidate %q already applied", suggestionID)
	}

	cand := cands[idx]
	claim, err := db.AppendClaim(Claim{
		ClaimType:  cand.ClaimType,
		Text:       cand.Text,
		Scope:      cand.Scope,
		Visibility: cand.Visibility,
		Tags:       cand.Tags,
		Confidence: cand.Confidence,
		SourceRefs: refsFrom(cand.SourceEventIDs, allowedEventIDs),
	})
	if err != nil {
		return Claim{}, err
	}

	cands[idx].Applied = true
	cands[idx].AppliedClaimID = claim.ClaimID
	if err := SavePreferenceCandidates(candidatesPath, cands); err != nil {
		return Claim{}, err
	}
	return claim, nil
}
