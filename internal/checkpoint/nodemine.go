package checkpoint

import (
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// RecordDecision is the segment record kind the orchestrator appends for a
// decide_next outcome; distinct from the seven snapshot sections since
// node materialization reads segment structure directly rather than the
// composed Snapshot text.
const RecordDecision = "decision"

// MaterializeNodes deterministically builds decision/action/summary nodes
// from the segment buffer (spec.md §4.7 step 5, "no Mind call") and
// derived_from edges from each node to the EvidenceLog event it cites.
// snapshot is the already-built Snapshot for this checkpoint, used as the
// summary node's text when non-empty.
func MaterializeNodes(db *thoughtdb.DB, scope, visibility string, records []overlay.SegmentRecord, snapshot Snapshot) ([]thoughtdb.Node, []thoughtdb.Edge, error) {
	var nodes []thoughtdb.Node
	var edges []thoughtdb.Edge

	for _, rec := range records {
		var nodeType string
		switch rec.Kind {
		case RecordAction:
			nodeType = thoughtdb.NodeAction
		case RecordDecision:
			nodeType = thoughtdb.NodeDecision
		default:
			continue
		}
		text := recordText(rec)
		if text == "" {
			continue
		}
		eventID, _ := rec.Data["event_id"].(string)
		var refs []thoughtdb.SourceRef
		if eventID != "" {
			refs = []thoughtdb.SourceRef{{EventID: eventID}}
		}
		n, err := db.AppendNode(thoughtdb.Node{
			NodeType:   nodeType,
			Title:      titleOf(text),
			Text:       text,
			Scope:      scope,
			Visibility: visibility,
			SourceRefs: refs,
		})
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
		if eventID != "" {
			e, err := db.AppendEdge(thoughtdb.Edge{
				EdgeType:   thoughtdb.EdgeDerivedFrom,
				FromID:     n.NodeID,
				ToID:       eventID,
				Scope:      scope,
				Visibility: visibility,
				SourceRefs: refs,
			})
			if err != nil {
				return nil, nil, err
			}
			edges = append(edges, e)
		}
	}

	if snapshot.Text != "" {
		var refs []thoughtdb.SourceRef
		for _, id := range snapshot.SourceRefs {
			refs = append(refs, thoughtdb.SourceRef{EventID: id})
		}
		n, err := db.AppendNode(thoughtdb.Node{
			NodeType:   thoughtdb.NodeSummary,
			Title:      "Checkpoint summary",
			Text:       snapshot.Text,
			Scope:      scope,
			Visibility: visibility,
			SourceRefs: refs,
		})
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
		for _, id := range snapshot.SourceRefs {
			e, err := db.AppendEdge(thoughtdb.Edge{
				EdgeType:   thoughtdb.EdgeDerivedFrom,
				FromID:     n.NodeID,
				ToID:       id,
				Scope:      scope,
				Visibility: visibility,
				SourceRefs: []thoughtdb.SourceRef{{EventID: id}},
			})
			if err != nil {
				return nil, nil, err
			}
			edges = append(edges, e)
		}
	}

	return nodes, edges, nil
}

func titleOf(text string) string {
	r := []rune(text)
	const maxTitle = 80
	if len(r) <= maxTitle {
		return text
	}
	return string(r[:maxTitle]) + "…"
}
