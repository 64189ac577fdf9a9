package thoughtdb

import (
	"path/filepath"
	"testing"
)

func TestAppendAndReadClaim(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)

	c, err := db.AppendClaim(Claim{
		ClaimType:  ClaimFact,
		Text:       "ran ls",
		Scope:      ScopeProject,
		Visibility: VisibilityProject,
		Confidence: 0.9,
		SourceRefs: []SourceRef{{EventID: "ev_1_aaaa"}},
	})
	if err != nil {
		t.Fatalf("AppendClaim: %v", err)
	}
	if c.ClaimID == "" || c.AssertedTS == "" {
		t.Fatalf("expected claim_id/asserted_ts to be assigned, got %+v", c)
	}

	claims, err := db.readClaims()
	if err != nil {
		t.Fatalf("readClaims: %v", err)
	}
	if len(claims) != 1 || claims[0].ClaimID != c.ClaimID {
		t.Fatalf("expected to read back the appended claim, got %+v", claims)
	}
}

func TestViewStatusSupersedesAndSameAs(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)

	a, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "a", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})
	b, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "b", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})
	x, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "x", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})
	y, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "y", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})

	if _, err := db.AppendEdge(Edge{EdgeType: EdgeSupersedes, FromID: a.ClaimID, ToID: b.ClaimID, Scope: ScopeProject, Visibility: VisibilityProject, SourceRefs: []SourceRef{{EventID: "ev_1"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendEdge(Edge{EdgeType: EdgeSameAs, FromID: x.ClaimID, ToID: y.ClaimID, Scope: ScopeProject, Visibility: VisibilityProject, SourceRefs: []SourceRef{{EventID: "ev_1"}}}); err != nil {
		t.Fatal(err)
	}

	view, err := BuildView(db, "proj1")
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}

	if got := view.Status(a.ClaimID); got != StatusSuperseded {
		t.Errorf("status(a) = %s, want superseded", got)
	}
	if got := view.Status(b.ClaimID); got != StatusActive {
		t.Errorf("status(b) = %s, want active", got)
	}
	if got := view.Resolve(x.ClaimID); got != y.ClaimID {
		t.Errorf("resolve(x) = %s, want %s", got, y.ClaimID)
	}

	for _, c := range view.ActiveClaims() {
		if c.ClaimID == x.ClaimID {
			t.Errorf("expected x to be hidden from canonical iteration")
		}
	}
}

func TestApplyMinedOutputIdempotent(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)

	allowed := map[string]bool{"ev_1": true}
	batch := MinedOutput{
		Claims: []MinedClaim{
			{LocalID: "l1", ClaimType: ClaimFact, Text: "Ran the build", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 0.8, SourceEventIDs: []string{"ev_1"}},
		},
	}
	opts := ApplyOptions{ProjectID: "proj1", MinConfidence: 0.5, MaxClaims: 10, AllowedEventIDs: allowed}

	first, err := db.ApplyMinedOutput(batch, opts)
	if err != nil {
		t.Fatalf("first ApplyMinedOutput: %v", err)
	}
	if len(first.Written) != 1 {
		t.Fatalf("expected 1 written claim, got %+v", first)
	}

	second, err := db.ApplyMinedOutput(batch, opts)
	if err != nil {
		t.Fatalf("second ApplyMinedOutput: %v", err)
	}
	if len(second.Written) != 0 {
		t.Errorf("expected zero writes on re-apply, got %+v", second.Written)
	}
	if second.LinkedExisting["l1"] != first.Written[0] {
		t.Errorf("expected re-apply to link to %s, got %+v", first.Written[0], second.LinkedExisting)
	}
}

func TestApplyMinedOutputRequiresAllowedSource(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)

	batch := MinedOutput{
		Claims: []MinedClaim{
			{LocalID: "l1", ClaimType: ClaimFact, Text: "unsourced", Scope: ScopeProject, Visibility: VisibilityProject, Confidence: 0.9, SourceEventIDs: []string{"ev_not_allowed"}},
		},
	}
	result, err := db.ApplyMinedOutput(batch, ApplyOptions{ProjectID: "p", MinConfidence: 0.1, AllowedEventIDs: map[string]bool{"ev_1": true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Written) != 0 {
		t.Errorf("expected no claim written without an allowed source event, got %+v", result)
	}
	if len(result.Skipped) != 1 {
		t.Errorf("expected a skip reason, got %+v", result.Skipped)
	}
}

func TestEdgeVisibilityFloor(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)
	allowed := map[string]bool{"ev_1": true}

	a, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "private one", Scope: ScopeProject, Visibility: VisibilityPrivate, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})
	b, _ := db.AppendClaim(Claim{ClaimType: ClaimFact, Text: "global one", Scope: ScopeProject, Visibility: VisibilityGlobal, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})

	batch := MinedOutput{
		Edges: []MinedEdge{
			{EdgeType: EdgeMentions, FromID: a.ClaimID, ToID: b.ClaimID, SourceEventIDs: []string{"ev_1"}},
		},
	}
	result, err := db.ApplyMinedOutput(batch, ApplyOptions{ProjectID: "p", AllowedEventIDs: allowed})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.WrittenEdges) != 1 {
		t.Fatalf("expected one edge written, got %+v", result)
	}

	edges, err := db.readEdges()
	if err != nil {
		t.Fatal(err)
	}
	if edges[0].Visibility != VisibilityPrivate {
		t.Errorf("edge visibility = %s, want private (the more restrictive endpoint)", edges[0].Visibility)
	}
}

func TestApplySuggestedLearn(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)
	candPath := filepath.Join(dir, "candidates", "preferences.json")

	cand := NewPreferenceCandidate(ClaimPreference, ScopeProject, VisibilityProject, "Do not auto-install dependencies without asking", nil, []string{"ev_1"}, 0.7)
	if err := SavePreferenceCandidates(candPath, []PreferenceCandidate{cand}); err != nil {
		t.Fatal(err)
	}

	claim, err := db.ApplySuggestedLearn(candPath, cand.ID, map[string]bool{"ev_1": true})
	if err != nil {
		t.Fatalf("ApplySuggestedLearn: %v", err)
	}
	if claim.ClaimID == "" {
		t.Fatalf("expected a claim to be written")
	}

	if _, err := db.ApplySuggestedLearn(candPath, cand.ID, map[string]bool{"ev_1": true}); err == nil {
		t.Errorf("expected error re-applying an already-applied suggestion")
	}
}

func TestResolveBoolDefaultProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	db := Open(dir)
	db.AppendClaim(Claim{ClaimType: ClaimPreference, Text: "false", Scope: ScopeProject, Visibility: VisibilityProject, Tags: []string{TagAskWhenUncertain}, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})

	globalDir := t.TempDir()
	globalDB := Open(globalDir)
	globalDB.AppendClaim(Claim{ClaimType: ClaimPreference, Text: "true", Scope: ScopeGlobal, Visibility: VisibilityGlobal, Tags: []string{TagAskWhenUncertain}, Confidence: 1, SourceRefs: []SourceRef{{EventID: "ev_1"}}})

	pv, err := BuildView(db, "p")
	if err != nil {
		t.Fatal(err)
	}
	gv, err := BuildView(globalDB, "")
	if err != nil {
		t.Fatal(err)
	}

	if got := ResolveBoolDefault(pv, gv, TagAskWhenUncertain, true); got != false {
		t.Errorf("expected project claim (false) to override global (true), got %v", got)
	}
}
