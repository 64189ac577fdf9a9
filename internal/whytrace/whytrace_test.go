package whytrace

import (
	"testing"

	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

func TestGatherCandidatesDedupesAndCaps(t *testing.T) {
	view := &thoughtdb.View{ClaimsByID: map[string]thoughtdb.Claim{
		"cl_1": {ClaimID: "cl_1", Text: "uses Go 1.24"},
	}}
	recalled := []memoryindex.Item{
		{ClaimID: "cl_1", Text: "uses Go 1.24"}, // duplicate of the direct citation
		{ClaimID: "cl_2", Text: "prefers squash merges"},
		{ClaimID: "cl_3", Text: "prefers trunk-based dev"},
	}
	got := GatherCandidates(view, []string{"cl_1"}, recalled, 2)
	if len(got) != 2 {
		t.Fatalf("GatherCandidates = %+v, want 2 (cap)", got)
	}
	if got[0].ClaimID != "cl_1" || got[1].ClaimID != "cl_2" {
		t.Errorf("GatherCandidates = %+v", got)
	}
}

func TestParseResult(t *testing.T) {
	r := ParseResult(map[string]any{
		"selected_claim_ids": []any{"cl_1", "cl_2"},
		"confidence":         0.92,
	})
	if len(r.SelectedClaimIDs) != 2 || r.Confidence != 0.92 {
		t.Errorf("ParseResult = %+v", r)
	}
}

func TestShouldWriteEdges(t *testing.T) {
	if !ShouldWriteEdges(Result{Confidence: 0.9}, 0.8, true) {
		t.Errorf("expected a high-confidence result with write_edges to pass")
	}
	if ShouldWriteEdges(Result{Confidence: 0.5}, 0.8, true) {
		t.Errorf("expected a low-confidence result to be rejected")
	}
	if ShouldWriteEdges(Result{Confidence: 0.9}, 0.8, false) {
		t.Errorf("expected write_edges=false to always reject")
	}
}

func TestMaterializeDependsOn(t *testing.T) {
	db := thoughtdb.Open(t.TempDir())
	target := Target{EventID: "ev_99", Kind: "decide_next"}
	r := Result{SelectedClaimIDs: []string{"cl_1", "cl_2"}, Confidence: 0.95}

	edges, err := MaterializeDependsOn(db, target, r, thoughtdb.ScopeProject, thoughtdb.VisibilityProject)
	if err != nil {
		t.Fatalf("MaterializeDependsOn: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	for i, e := range edges {
		if e.EdgeType != thoughtdb.EdgeDependsOn {
			t.Errorf("edge %d EdgeType = %q, want depends_on", i, e.EdgeType)
		}
		if e.FromID != "ev_99" {
			t.Errorf("edge %d FromID = %q, want ev_99", i, e.FromID)
		}
	}
}
