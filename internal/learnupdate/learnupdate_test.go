package learnupdate

import (
	"testing"

	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

func TestShouldRun(t *testing.T) {
	thr := Thresholds{MinNewSuggestionsPerRun: 3, MinActiveLearnedClaims: 2}
	if ShouldRun(thr, 2, 5) {
		t.Errorf("expected too few new suggestions to block learn_update")
	}
	if ShouldRun(thr, 3, 1) {
		t.Errorf("expected too few active learned claims to block learn_update")
	}
	if !ShouldRun(thr, 3, 2) {
		t.Errorf("expected both thresholds met to allow learn_update")
	}
}

func TestParsePatchClampsAndFiltersConfidence(t *testing.T) {
	thr := Thresholds{MaxClaims: 1, MaxRetracts: 1, MinConfidence: 0.7}
	obj := map[string]any{
		"claims": []any{
			map[string]any{"text": "low confidence", "claim_type": "preference", "scope": "project", "confidence": 0.3},
			map[string]any{"text": "keep this one", "claim_type": "preference", "scope": "project", "confidence": 0.9},
			map[string]any{"text": "over the cap", "claim_type": "preference", "scope": "project", "confidence": 0.95},
		},
		"retracts": []any{
			map[string]any{"claim_id": "cl_1", "reason": "superseded"},
			map[string]any{"claim_id": "cl_2", "reason": "stale"},
		},
	}
	p := ParsePatch(obj, thr)
	if len(p.Claims) != 1 || p.Claims[0].Text != "keep this one" {
		t.Fatalf("Claims = %+v", p.Claims)
	}
	if len(p.Retracts) != 1 || p.Retracts[0].ClaimID != "cl_1" {
		t.Fatalf("Retracts = %+v", p.Retracts)
	}
}

func TestApplyCommitsClaimsAndRetracts(t *testing.T) {
	db := thoughtdb.Open(t.TempDir())
	existing, err := db.AppendClaim(thoughtdb.Claim{
		ClaimType: thoughtdb.ClaimPreference, Scope: thoughtdb.ScopeProject, Text: "old preference",
	})
	if err != nil {
		t.Fatalf("AppendClaim: %v", err)
	}

	p := Patch{
		Claims: []thoughtdb.MinedClaim{
			{LocalID: "local-1", ClaimType: thoughtdb.ClaimPreference, Scope: thoughtdb.ScopeProject, Text: "new preference",
				Confidence: 0.9, SourceEventIDs: []string{"ev_1"}},
		},
		Retracts: []Retract{{ClaimID: existing.ClaimID, Reason: "superseded by new preference"}},
	}
	applied, err := Apply(db, p, thoughtdb.ApplyOptions{
		ProjectID: "proj-1", MinConfidence: 0.5, MaxClaims: 10,
		AllowedEventIDs: map[string]bool{"ev_1": true},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied.Written) != 1 {
		t.Errorf("Written = %v, want 1 new claim", applied.Written)
	}
	if len(applied.RetractedIDs) != 1 || applied.RetractedIDs[0] != existing.ClaimID {
		t.Errorf("RetractedIDs = %v", applied.RetractedIDs)
	}
}
