// Package thoughtdb implements MI's reusable knowledge graph: four
// append-only JSONL streams per scope (claims, claim retracts, edges,
// nodes), a materialized
// as-of view over them, and apply_mined_output, the sole entry point through
// which Mind-produced batches of claims and edges are committed
// (spec.md §3, §4.3).
package thoughtdb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
)

// Claim types, scopes, and visibilities (spec.md §3).
const (
	ClaimFact       = "fact"
	ClaimPreference = "preference"
	ClaimGoal       = "goal"
	ClaimAssumption = "assumption"

	ScopeProject = "project"
	ScopeGlobal  = "global"

	VisibilityPrivate = "private"
	VisibilityProject = "project"
	VisibilityGlobal  = "global"
)

// Edge types (spec.md §3).
const (
	EdgeDependsOn   = "depends_on"
	EdgeSupports    = "supports"
	EdgeContradicts = "contradicts"
	EdgeDerivedFrom = "derived_from"
	EdgeMentions    = "mentions"
	EdgeSupersedes  = "supersedes"
	EdgeSameAs      = "same_as"
)

// Node types (spec.md §3).
const (
	NodeDecision = "decision"
	NodeAction   = "action"
	NodeSummary  = "summary"
)

// SourceRef cites one EvidenceLog event a Claim/Edge/Node is grounded in.
type SourceRef struct {
	EventID string `json:"event_id"`
}

// Claim is one atomic assertion in the Thought DB.
type Claim struct {
	ClaimID    string      `json:"claim_id"`
	ClaimType  string      `json:"claim_type"`
	Text       string      `json:"text"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	AssertedTS string      `json:"asserted_ts"`
	ValidFrom  string      `json:"valid_from,omitempty"`
	ValidTo    string      `json:"valid_to,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	SourceRefs []SourceRef `json:"source_refs"`
	Confidence float64     `json:"confidence"`
}

// ClaimRetract is a companion append-only record that retracts a prior claim.
type ClaimRetract struct {
	ClaimID    string `json:"claim_id"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason,omitempty"`
	RetractedTS string `json:"retracted_ts"`
}

// Edge connects two claims.
type Edge struct {
	EdgeID     string      `json:"edge_id"`
	EdgeType   string      `json:"edge_type"`
	FromID     string      `json:"from_id"`
	ToID       string      `json:"to_id"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	SourceRefs []SourceRef `json:"source_refs"`
	AssertedTS string      `json:"asserted_ts"`
}

// Node is a first-class vertex materialized at checkpoints, independent of
// Claims, for later why-trace queries.
type Node struct {
	NodeID     string      `json:"node_id"`
	NodeType   string      `json:"node_type"`
	Title      string      `json:"title"`
	Text       string      `json:"text"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	SourceRefs []SourceRef `json:"source_refs"`
	AssertedTS string      `json:"asserted_ts"`
}

// Signature computes the claim dedup signature (spec.md §3 "Claim
// signature"): sha256(claim_type | scope | project_id | normalized_text).
// projectID is empty for global-scope claims.
func Signature(claimType, scope, projectID, text string) string {
	return idgen.ClaimSignature(claimType, scope, projectID, text)
}

// visibilityRank orders visibility from least to most restrictive so edges
// can take the more restrictive of their two endpoints (spec.md §4.3
// "Visibility ordering").
func visibilityRank(v string) int {
	switch v {
	case VisibilityPrivate:
		return 0
	case VisibilityProject:
		return 1
	case VisibilityGlobal:
		return 2
	default:
		return 1
	}
}

// MoreRestrictive returns whichever of a, b ranks lower (more private).
func MoreRestrictive(a, b string) string {
	if visibilityRank(a) <= visibilityRank(b) {
		return a
	}
	return b
}

// stream is one append-only JSONL file. It is a thin wrapper shared by the
// claims/claim_retracts/edges/nodes streams — same append/read/flush contract as
// evidencelog.Log, duplicated here rather than imported so Claim/Edge/Node's
// distinct payload shapes stay typed instead of routed through a generic
// map[string]any record.
type stream struct {
	mu   sync.Mutex
	path string
}

func newStream(path string) *stream { return &stream{path: path} }

func (s *stream) appendLine(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("thoughtdb: mkdir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("thoughtdb: open %s: %w", s.path, err)
	}
	defer f.Close()

	line, err := marshalSortedKeys(v)
	if err != nil {
		return fmt.Errorf("thoughtdb: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("thoughtdb: write: %w", err)
	}
	return f.Sync()
}

func (s *stream) readLines() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("thoughtdb: open %s: %w", s.path, err)
	}
	defer f.Close()

	var out [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		out = append(out, cp)
	}
	return out, nil
}

func marshalSortedKeys(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DB is the four append streams (claims, edges, nodes, claim retracts)
// for one scope (a project's thoughtdb/ dir,
// or the global one).
type DB struct {
	claims *stream
	edges  *stream
	nodes  *stream

	claimRetracts *stream
}

// Open binds a DB to dir (e.g. "<project>/thoughtdb" or "<home>/thoughtdb").
// Files are created lazily on first append.
func Open(dir string) *DB {
	return &DB{
		claims:        newStream(filepath.Join(dir, "claims.jsonl")),
		edges:         newStream(filepath.Join(dir, "edges.jsonl")),
		nodes:         newStream(filepath.Join(dir, "nodes.jsonl")),
		claimRetracts: newStream(filepath.Join(dir, "claim_retracts.jsonl")),
	}
}

// AppendClaim assigns a claim_id/asserted_ts when unset and appends it.
func (db *DB) AppendClaim(c Claim) (Claim, error) {
	if c.ClaimID == "" {
		c.ClaimID = idgen.Claim()
	}
	if c.AssertedTS == "" {
		c.AssertedTS = time.Now().UTC().Format(time.RFC3339)
	}
	if err := db.claims.appendLine(c); err != nil {
		return Claim{}, err
	}
	return c, nil
}

// AppendClaimRetract appends a retraction citing targetID.
func (db *DB) AppendClaimRetract(targetID, reason string) (ClaimRetract, error) {
	r := ClaimRetract{
		ClaimID:     idgen.New("clr"),
		TargetID:    targetID,
		Reason:      reason,
		RetractedTS: time.Now().UTC().Format(time.RFC3339),
	}
	if err := db.claimRetracts.appendLine(r); err != nil {
		return ClaimRetract{}, err
	}
	return r, nil
}

// AppendEdge assigns an edge_id/asserted_ts when unset and appends it.
func (db *DB) AppendEdge(e Edge) (Edge, error) {
	if e.EdgeID == "" {
		e.EdgeID = idgen.Edge()
	}
	if e.AssertedTS == "" {
		e.AssertedTS = time.Now().UTC().Format(time.RFC3339)
	}
	if err := db.edges.appendLine(e); err != nil {
		return Edge{}, err
	}
	return e, nil
}

// AppendNode assigns a node_id/asserted_ts when unset and appends it.
func (db *DB) AppendNode(n Node) (Node, error) {
	if n.NodeID == "" {
		n.NodeID = idgen.Node()
	}
	if n.AssertedTS == "" {
		n.AssertedTS = time.Now().UTC().Format(time.RFC3339)
	}
	if err := db.nodes.appendLine(n); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (db *DB) readClaims() ([]Claim, error) {
	lines, err := db.claims.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]Claim, 0, len(lines))
	for _, l := range lines {
		var c Claim
		if json.Unmarshal(l, &c) != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (db *DB) readClaimRetracts() ([]ClaimRetract, error) {
	lines, err := db.claimRetracts.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]ClaimRetract, 0, len(lines))
	for _, l := range lines {
		var r ClaimRetract
		if json.Unmarshal(l, &r) != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (db *DB) readEdges() ([]Edge, error) {
	lines, err := db.edges.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(lines))
	for _, l := range lines {
		var e Edge
		if json.Unmarshal(l, &e) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (db *DB) readNodes() ([]Node, error) {
	lines, err := db.nodes.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(lines))
	for _, l := range lines {
		var n Node
		if json.Unmarshal(l, &n) != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
