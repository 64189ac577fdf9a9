package orchestrator

import "path/filepath"

// ProjectPaths resolves the file layout spec.md §6 lays out under
// $MI_HOME/projects/<project_id>/, plus the shared global stores directly
// under $MI_HOME.
type ProjectPaths struct {
	Home      string
	ProjectID string
}

func (p ProjectPaths) projectDir() string { return filepath.Join(p.Home, "projects", p.ProjectID) }

func (p ProjectPaths) Overlay() string       { return filepath.Join(p.projectDir(), "overlay.json") }
func (p ProjectPaths) Evidence() string      { return filepath.Join(p.projectDir(), "evidence.jsonl") }
func (p ProjectPaths) SegmentState() string  { return filepath.Join(p.projectDir(), "segment_state.json") }
func (p ProjectPaths) ThoughtDB() string     { return filepath.Join(p.projectDir(), "thoughtdb") }
func (p ProjectPaths) Workflows() string     { return filepath.Join(p.projectDir(), "workflows") }
func (p ProjectPaths) PreferenceCandidates() string {
	return filepath.Join(p.projectDir(), "candidates", "preferences.json")
}
func (p ProjectPaths) WorkflowCandidates() string {
	return filepath.Join(p.projectDir(), "candidates", "workflows.json")
}
func (p ProjectPaths) HandsTranscriptDir() string {
	return filepath.Join(p.projectDir(), "transcripts", "hands")
}
func (p ProjectPaths) MindTranscriptDir() string {
	return filepath.Join(p.projectDir(), "transcripts", "mind")
}

func (p ProjectPaths) GlobalThoughtDB() string { return filepath.Join(p.Home, "thoughtdb") }
func (p ProjectPaths) GlobalEvidence() string  { return filepath.Join(p.Home, "global_evidence.jsonl") }
func (p ProjectPaths) GlobalWorkflows() string { return filepath.Join(p.Home, "workflows") }
func (p ProjectPaths) MemoryIndex() string     { return filepath.Join(p.Home, "indexes", "memory.sqlite") }
