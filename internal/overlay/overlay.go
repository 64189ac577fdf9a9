// Package overlay implements MI's two mutable, atomically-written JSON
// documents: ProjectOverlay (the only mutable persistent state on the hot
// path, spec.md §3 invariants) and SegmentState (the sliding evidence buffer
// consumed by the checkpoint pipeline). Both are written via temp-file +
// rename so a reader never observes a partial write.
package overlay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HandsState records the most recently observed Hands session.
type HandsState struct {
	Provider  string `json:"provider"`
	ThreadID  string `json:"thread_id"`
	UpdatedTS string `json:"updated_ts"`
}

// WorkflowRun tracks the active workflow cursor for a project.
type WorkflowRun struct {
	Active           bool     `json:"active"`
	WorkflowID       string   `json:"workflow_id,omitempty"`
	CompletedStepIDs []string `json:"completed_step_ids,omitempty"`
	NextStepID       string   `json:"next_step_id,omitempty"`
}

// TestlessVerificationStrategy records the project's resolved testless
// verification choice once it has been asked (spec.md §4.4.b).
type TestlessVerificationStrategy struct {
	ChosenOnce bool   `json:"chosen_once"`
	Strategy   string `json:"strategy,omitempty"`
	Rationale  string `json:"rationale,omitempty"`
}

// ProjectOverlay is the single mutable persistent state object on MI's hot
// path (spec.md §3 invariants).
type ProjectOverlay struct {
	ProjectID                    string                       `json:"project_id"`
	RootPath                     string                       `json:"root_path"`
	IdentityKey                  string                       `json:"identity_key"`
	Identity                     string                       `json:"identity,omitempty"`
	HandsState                   HandsState                   `json:"hands_state"`
	WorkflowRun                  WorkflowRun                  `json:"workflow_run"`
	TestlessVerificationStrategy TestlessVerificationStrategy `json:"testless_verification_strategy"`
	GlobalWorkflowOverrides      []string                     `json:"global_workflow_overrides,omitempty"`
	HostBindings                 []string                     `json:"host_bindings,omitempty"`
	StackHints                   []string                     `json:"stack_hints,omitempty"`
}

// SegmentRecord is one compact summary appended to the rolling buffer.
type SegmentRecord struct {
	Kind string         `json:"kind"`
	TS   string         `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// SegmentState is the bounded sliding window of recent evidence used as
// checkpoint-mining input (spec.md §3).
type SegmentState struct {
	ThreadID          string          `json:"thread_id"`
	Records           []SegmentRecord `json:"records"`
	LastCheckpointKey string          `json:"last_checkpoint_key,omitempty"`
	LastCheckpointTS  string          `json:"last_checkpoint_ts,omitempty"`
}

const defaultSegmentMax = 40

// LoadProjectOverlay reads overlay.json, falling back to a default zero
// shape (with a deferred warning string) on missing or corrupt JSON
// (spec.md §7 "Missing overlay / corrupt JSON").
func LoadProjectOverlay(path string) (*ProjectOverlay, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectOverlay{}, ""
		}
		return &ProjectOverlay{}, fmt.Sprintf("overlay: read %s: %v", path, err)
	}
	var ov ProjectOverlay
	if err := json.Unmarshal(data, &ov); err != nil {
		return &ProjectOverlay{}, fmt.Sprintf("overlay: corrupt JSON at %s: %v", path, err)
	}
	return &ov, ""
}

// SaveProjectOverlay writes ov atomically (temp file + rename).
func SaveProjectOverlay(path string, ov *ProjectOverlay) error {
	return atomicWriteJSON(path, ov)
}

// LoadSegmentState reads segment_state.json, falling back to an empty
// buffer bound to threadID on missing or corrupt JSON.
func LoadSegmentState(path, threadID string) (*SegmentState, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SegmentState{ThreadID: threadID}, ""
		}
		return &SegmentState{ThreadID: threadID}, fmt.Sprintf("segment_state: read %s: %v", path, err)
	}
	var st SegmentState
	if err := json.Unmarshal(data, &st); err != nil {
		return &SegmentState{ThreadID: threadID}, fmt.Sprintf("segment_state: corrupt JSON at %s: %v", path, err)
	}
	if st.ThreadID != threadID {
		// Session reset: a new thread_id means the prior buffer is stale.
		return &SegmentState{ThreadID: threadID}, ""
	}
	return &st, ""
}

// AppendSegmentRecord appends one record to st in memory and trims the
// buffer to its newest segmentMax records (0 uses the default of 40). It
// does not write anything; SaveSegmentState persists the buffer.
func AppendSegmentRecord(st *SegmentState, kind string, data map[string]any, segmentMax int) {
	if segmentMax <= 0 {
		segmentMax = defaultSegmentMax
	}
	st.Records = append(st.Records, SegmentRecord{
		Kind: kind,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	})
	if len(st.Records) > segmentMax {
		st.Records = st.Records[len(st.Records)-segmentMax:]
	}
}

// SaveSegmentState writes st atomically.
func SaveSegmentState(path string, st *SegmentState) error {
	return atomicWriteJSON(path, st)
}

// ClearSegmentState resets the buffer in place, keeping its thread binding.
func ClearSegmentState(st *SegmentState) {
	st.Records = nil
	st.LastCheckpointKey = ""
}

func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("overlay: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("overlay: marshal: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("overlay: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("overlay: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("overlay: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("overlay: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("overlay: rename into place: %w", err)
	}
	return nil
}
