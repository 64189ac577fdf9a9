// Package memoryindex implements MI's cross-project recall: a narrow
// Recaller interface and a modernc.org/sqlite-backed text index behind it
// (spec.md §6's `indexes/memory.sqlite`, SPEC_FULL.md §B). FTS query-syntax
// specifics are an external-collaborator concern per SPEC_FULL.md §D; the
// storage engine itself is wired and exercised with a plain substring
// match, following cortex's own `internal/store`'s `sql.Open("sqlite",
// ...)` + embedded-schema idiom.
package memoryindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Item is one recalled snippet, citing the claim or node it came from.
type Item struct {
	ClaimID string
	NodeID  string
	Text    string
	Score   float64
}

// Recaller is the cross-project recall seam called before every user
// prompt point (spec.md §4.8, SPEC_FULL.md §C.5): testless-strategy
// question, auto-answer escalation, loop-break ask_user, and the final
// ask_user decide_next branch.
type Recaller interface {
	Recall(ctx context.Context, query string, topK int) ([]Item, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS snippets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	claim_id TEXT NOT NULL DEFAULT '',
	node_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snippets_project ON snippets(project_id);
`

// Index is the sqlite-backed Recaller implementation.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dbPath and
// ensures its schema, mirroring cortex's internal/store.Open.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memoryindex: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memoryindex: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// IndexClaim inserts or makes recallable one committed claim's text, scoped
// to the project it came from ("" for global claims).
func (ix *Index) IndexClaim(ctx context.Context, projectID, claimID, text string) error {
	_, err := ix.db.ExecContext(ctx, `INSERT INTO snippets (claim_id, project_id, text) VALUES (?, ?, ?)`, claimID, projectID, text)
	if err != nil {
		return fmt.Errorf("memoryindex: index claim %s: %w", claimID, err)
	}
	return nil
}

// IndexNode inserts a materialized node's text into the index.
func (ix *Index) IndexNode(ctx context.Context, projectID, nodeID, text string) error {
	_, err := ix.db.ExecContext(ctx, `INSERT INTO snippets (node_id, project_id, text) VALUES (?, ?, ?)`, nodeID, projectID, text)
	if err != nil {
		return fmt.Errorf("memoryindex: index node %s: %w", nodeID, err)
	}
	return nil
}

// Recall returns up to topK snippets whose text contains query
// (case-insensitive), most recently indexed first. An empty or whitespace
// query matches nothing rather than returning an unbounded scan.
func (ix *Index) Recall(ctx context.Context, query string, topK int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT claim_id, node_id, text FROM snippets WHERE text LIKE ? ORDER BY id DESC LIMIT ?`,
		"%"+query+"%", topK,
	)
	if err != nil {
		return nil, fmt.Errorf("memoryindex: recall: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ClaimID, &it.NodeID, &it.Text); err != nil {
			return nil, fmt.Errorf("memoryindex: scan: %w", err)
		}
		it.Score = 1
		items = append(items, it)
	}
	return items, rows.Err()
}
