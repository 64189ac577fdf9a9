// Package orchestrator wires every other package into the per-batch
// run-loop spec.md §4.9 describes: Hands invocation, evidence extraction,
// risk assessment, the pre-action phase, decide_next, loop-guard, workflow
// progress, and checkpoint mining, repeated until the run reaches a
// terminal state or max_batches.
package orchestrator

import (
	"context"

	"github.com/antigravity-dev/mind-incarnation/internal/hands"
	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// MindCaller is the narrow seam into mindmediator.Mediator the orchestrator
// depends on, so tests can substitute a fake without standing up a real
// Provider/TranscriptRecorder pair.
type MindCaller interface {
	Call(schema mindmediator.Schema, prompt, tag, batchID string) (map[string]any, string, mindmediator.State)
}

// Schemas is the loaded set of Mind schema documents, keyed by name
// (spec.md §6 "loads it verbatim"). Loading schema files off disk is an
// external-collaborator concern; the orchestrator only ever looks one up
// by name.
type Schemas map[string]mindmediator.Schema

func (s Schemas) get(name string) mindmediator.Schema {
	return s[name]
}

// UserPrompter is the one suspension point that reads from the terminal
// (spec.md §5 "user prompt readline").
type UserPrompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// MemoryIndexer is the optional write half of the cross-project memory
// index: run-end flushing of newly committed claims and nodes is
// best-effort and must never block MI progress (spec.md §5, §4.8), so a
// nil indexer simply skips the flush.
type MemoryIndexer interface {
	IndexClaim(ctx context.Context, projectID, claimID, text string) error
	IndexNode(ctx context.Context, projectID, nodeID, text string) error
}

// WorkflowStore loads and persists project/global workflow definitions.
// The concrete store is a pair of JSON files under the project/global home
// directories; this seam lets tests substitute an in-memory one.
type WorkflowStore interface {
	LoadProject() ([]workflowtrigger.Workflow, error)
	LoadGlobal() ([]workflowtrigger.Workflow, error)
	SaveProject(w workflowtrigger.Workflow) error
	SaveGlobal(w workflowtrigger.Workflow) error
}

// HandsSupervisor narrows hands.Supervisor to the two operations the
// orchestrator calls, matching the real interface's signatures exactly so
// hands.Supervisor implementations satisfy it directly.
type HandsSupervisor = hands.Supervisor
