// Package whytrace implements the opt-in run-end why-trace pipeline:
// selecting the minimal supporting claim subset for the run's last
// decide_next or evidence event and materializing depends_on edges for it
// (spec.md §4.8, SPEC_FULL.md §C.4 "implemented as its own package").
package whytrace

import (
	"github.com/antigravity-dev/mind-incarnation/internal/memoryindex"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// Target is the run's last decide_next or evidence EvidenceLog event, the
// subject of the why-trace (spec.md §4.8 "pick the last decide_next or
// evidence event").
type Target struct {
	EventID string
	Kind    string
}

// Candidate is one claim offered to Mind as a possible supporting fact.
type Candidate struct {
	ClaimID string
	Text    string
}

// GatherCandidates builds the up-to-topK candidate pool from direct
// citation (claims the target event's own source_refs point to, or that
// cite it) plus memory-search results, deduped by claim id
// (spec.md §4.8 "gather up to top_k candidate claims via memory search and
// direct citation").
func GatherCandidates(view *thoughtdb.View, directClaimIDs []string, recalled []memoryindex.Item, topK int) []Candidate {
	if topK <= 0 {
		topK = 10
	}
	seen := make(map[string]bool)
	var out []Candidate

	add := func(claimID, text string) bool {
		if claimID == "" || seen[claimID] {
			return false
		}
		seen[claimID] = true
		out = append(out, Candidate{ClaimID: claimID, Text: text})
		return len(out) >= topK
	}

	for _, id := range directClaimIDs {
		text := id
		if view != nil {
			if c, ok := view.ClaimsByID[id]; ok {
				text = c.Text
			}
		}
		if add(id, text) {
			return out
		}
	}
	for _, item := range recalled {
		if item.ClaimID == "" {
			continue
		}
		if add(item.ClaimID, item.Text) {
			return out
		}
	}
	return out
}

// Result is Mind's parsed why_trace response: the chosen minimal
// supporting subset plus a confidence score.
type Result struct {
	SelectedClaimIDs []string
	Confidence       float64
}

// ParseResult extracts a Result from Mind's raw why_trace response object.
func ParseResult(obj map[string]any) Result {
	var r Result
	r.Confidence, _ = obj["confidence"].(float64)
	if raw, ok := obj["selected_claim_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				r.SelectedClaimIDs = append(r.SelectedClaimIDs, s)
			}
		}
	}
	return r
}

// ShouldWriteEdges reports whether the run-end pipeline should materialize
// depends_on edges for this result: confidence at or above threshold and
// the caller's write_edges config flag set (spec.md §4.8 "when confidence
// >= threshold and write_edges=true").
func ShouldWriteEdges(r Result, threshold float64, writeEdges bool) bool {
	return writeEdges && r.Confidence >= threshold
}

// MaterializeDependsOn writes one depends_on edge from target.EventID to
// each of r.SelectedClaimIDs (spec.md §4.8 "materialize depends_on edges
// from the target event to each chosen claim"). The caller must already
// have checked ShouldWriteEdges.
func MaterializeDependsOn(db *thoughtdb.DB, target Target, r Result, scope, visibility string) ([]thoughtdb.Edge, error) {
	var edges []thoughtdb.Edge
	for _, claimID := range r.SelectedClaimIDs {
		e, err := db.AppendEdge(thoughtdb.Edge{
			EdgeType:   thoughtdb.EdgeDependsOn,
			FromID:     target.EventID,
			ToID:       claimID,
			Scope:      scope,
			Visibility: visibility,
			SourceRefs: []thoughtdb.SourceRef{{EventID: target.EventID}},
		})
		if err != nil {
			return edges, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}
