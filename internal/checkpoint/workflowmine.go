package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// SuggestedWorkflow is Mind's parsed suggest_workflow response.
type SuggestedWorkflow struct {
	Name           string
	TriggerPattern string
	Steps          []string
	HighBenefit    bool
}

// ParseSuggestedWorkflow extracts a SuggestedWorkflow from Mind's raw
// response object.
func ParseSuggestedWorkflow(obj map[string]any) SuggestedWorkflow {
	var w SuggestedWorkflow
	w.Name, _ = obj["name"].(string)
	w.TriggerPattern, _ = obj["trigger_pattern"].(string)
	w.HighBenefit, _ = obj["high_benefit"].(bool)
	if raw, ok := obj["steps"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				w.Steps = append(w.Steps, s)
			}
		}
	}
	return w
}

// Signature computes a stable identity for a suggested workflow so repeat
// suggestions across batches accumulate into the same occurrence count
// (spec.md §4.7 "accumulate occurrence counts keyed by a workflow
// signature").
func (w SuggestedWorkflow) Signature() string {
	base := idgen.NormalizeText(w.Name) + "|" + idgen.NormalizeText(w.TriggerPattern) + "|" + idgen.NormalizeText(strings.Join(w.Steps, ","))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// WorkflowMiner tracks occurrence counts for suggested workflows across
// checkpoints within a run.
type WorkflowMiner struct {
	occurrences map[string]int
}

// NewWorkflowMiner returns an empty miner.
func NewWorkflowMiner() *WorkflowMiner {
	return &WorkflowMiner{occurrences: make(map[string]int)}
}

// Observe records one more occurrence of sig and returns the updated count.
func (m *WorkflowMiner) Observe(sig string) int {
	m.occurrences[sig]++
	return m.occurrences[sig]
}

// ShouldWrite reports whether a suggested workflow has crossed the
// write threshold: occurrences >= minOccurrences, or
// allowSingleIfHighBenefit is set and the suggestion itself is flagged
// high-benefit (spec.md §4.7 step 2).
func ShouldWrite(occurrences, minOccurrences int, allowSingleIfHighBenefit, highBenefit bool) bool {
	if occurrences >= minOccurrences {
		return true
	}
	return allowSingleIfHighBenefit && highBenefit && occurrences >= 1
}

// ToWorkflow converts a suggestion that has crossed the write threshold
// into a workflowtrigger.Workflow record, enabled and keyed by a truncated
// form of its own signature (so it dedupes against itself if suggested
// again while keeping the wf_ id shape).
func (w SuggestedWorkflow) ToWorkflow() workflowtrigger.Workflow {
	steps := make([]workflowtrigger.Step, 0, len(w.Steps))
	for i, s := range w.Steps {
		steps = append(steps, workflowtrigger.Step{ID: fmt.Sprintf("s%d", i+1), Name: s})
	}
	return workflowtrigger.Workflow{
		ID:      "wf_" + w.Signature()[:16],
		Name:    w.Name,
		Enabled: true,
		Trigger: workflowtrigger.Trigger{
			Mode:    workflowtrigger.TriggerTaskContains,
			Pattern: w.TriggerPattern,
		},
		Steps: steps,
	}
}

// WorkflowCandidate is one suggested workflow that hasn't yet crossed the
// occurrence/high-benefit write threshold, persisted to
// candidates/workflows.json (spec.md §6 file layout) so a repeated
// suggestion can keep accumulating occurrences across process restarts
// instead of resetting with an in-memory-only WorkflowMiner.
type WorkflowCandidate struct {
	Signature      string   `json:"signature"`
	Name           string   `json:"name"`
	TriggerPattern string   `json:"trigger_pattern"`
	Steps          []string `json:"steps"`
	Occurrences    int      `json:"occurrences"`
	HighBenefit    bool     `json:"high_benefit"`
}

type workflowCandidateFile struct {
	Workflows []WorkflowCandidate `json:"workflows"`
}

// LoadWorkflowCandidates reads candidates/workflows.json, defaulting to an
// empty list on missing or corrupt JSON.
func LoadWorkflowCandidates(path string) ([]WorkflowCandidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var f workflowCandidateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil
	}
	return f.Workflows, nil
}

// SaveWorkflowCandidates writes cands atomically.
func SaveWorkflowCandidates(path string, cands []WorkflowCandidate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(workflowCandidateFile{Workflows: cands}, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal workflow candidates: %w", err)
	}
	b = append(b, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// RecordWorkflowCandidate upserts sw (by signature) into the candidate file
// at path with the given occurrence count, so a below-threshold suggestion
// is visible for manual review instead of silently discarded.
func RecordWorkflowCandidate(path string, sw SuggestedWorkflow, occurrences int) error {
	cands, err := LoadWorkflowCandidates(path)
	if err != nil {
		return err
	}
	sig := sw.Signature()
	for i, c := range cands {
		if c.Signature == sig {
			cands[i].Occurrences = occurrences
			cands[i].HighBenefit = sw.HighBenefit
			return SaveWorkflowCandidates(path, cands)
		}
	}
	cands = append(cands, WorkflowCandidate{
		Signature: sig, Name: sw.Name, TriggerPattern: sw.TriggerPattern,
		Steps: sw.Steps, Occurrences: occurrences, HighBenefit: sw.HighBenefit,
	})
	return SaveWorkflowCandidates(path, cands)
}

// HostAdapter is the external-collaborator seam for syncing a newly mined
// workflow out to host workspace tooling (SPEC_FULL.md §D "Host workspace
// adapters ... remain external collaborators with stated Go interfaces");
// not exhaustively specified, so a caller without real host tooling to sync
// to can pass NopHostAdapter.
type HostAdapter interface {
	SyncWorkflow(w workflowtrigger.Workflow) error
}

// NopHostAdapter is the minimally-functional default HostAdapter: it accepts
// every mined workflow without syncing it anywhere, so the core checkpoint
// pipeline is runnable end-to-end without a configured host integration.
type NopHostAdapter struct{}

func (NopHostAdapter) SyncWorkflow(w workflowtrigger.Workflow) error { return nil }

