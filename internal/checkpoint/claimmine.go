package checkpoint

import (
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// ParseMinedOutput extracts a thoughtdb.MinedOutput from Mind's raw
// mine_claims response object (expects `claims` and `edges` arrays shaped
// like thoughtdb.MinedClaim/MinedEdge's fields).
func ParseMinedOutput(obj map[string]any) thoughtdb.MinedOutput {
	var out thoughtdb.MinedOutput
	if raw, ok := obj["claims"].([]any); ok {
		for _, v := range raw {
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
				for _, t := range tags {
					if s, ok := t.(string); ok {
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
			out.Claims = append(out.Claims, c)
		}
	}
	if raw, ok := obj["edges"].([]any); ok {
		for _, v := range raw {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			var e thoughtdb.MinedEdge
			e.EdgeType, _ = m["edge_type"].(string)
			e.FromID, _ = m["from_id"].(string)
			e.ToID, _ = m["to_id"].(string)
			if refs, ok := m["source_event_ids"].([]any); ok {
				for _, r := range refs {
					if s, ok := r.(string); ok {
						e.SourceEventIDs = append(e.SourceEventIDs, s)
					}
				}
			}
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// AllowedEventIDs collects the set of EvidenceLog event_ids present in the
// segment buffer, the "allowed event_id set" spec.md §4.7 step 4 requires
// mine_claims' output to cite.
func AllowedEventIDs(records []overlay.SegmentRecord) map[string]bool {
	allowed := make(map[string]bool)
	for _, rec := range records {
		if rec.Data == nil {
			continue
		}
		if id, ok := rec.Data["event_id"].(string); ok && id != "" {
			allowed[id] = true
		}
	}
	return allowed
}
