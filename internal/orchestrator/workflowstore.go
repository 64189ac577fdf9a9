package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/workflowtrigger"
)

// FileWorkflowStore persists project and global workflow definitions as
// JSON files under projects/<project_id>/workflows/ and the global home
// directory's workflows/ (spec.md §6 "workflows/wf_*.json"), one file per
// workflow id. It is the minimally-functional default WorkflowStore: the
// orchestrator only needs Load/Save, not a query language.
type FileWorkflowStore struct {
	ProjectDir string
	GlobalDir  string
}

func (s FileWorkflowStore) LoadProject() ([]workflowtrigger.Workflow, error) {
	return loadWorkflowDir(s.ProjectDir)
}

func (s FileWorkflowStore) LoadGlobal() ([]workflowtrigger.Workflow, error) {
	return loadWorkflowDir(s.GlobalDir)
}

func (s FileWorkflowStore) SaveProject(w workflowtrigger.Workflow) error {
	return saveWorkflowFile(s.ProjectDir, w)
}

func (s FileWorkflowStore) SaveGlobal(w workflowtrigger.Workflow) error {
	return saveWorkflowFile(s.GlobalDir, w)
}

func loadWorkflowDir(dir string) ([]workflowtrigger.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: reading workflow dir %s: %w", dir, err)
	}
	var out []workflowtrigger.Workflow
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		var w workflowtrigger.Workflow
		if json.Unmarshal(data, &w) != nil {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func saveWorkflowFile(dir string, w workflowtrigger.Workflow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir %s: %w", dir, err)
	}
	name := w.ID
	if !strings.HasPrefix(name, "wf_") {
		name = "wf_" + name
	}
	path := filepath.Join(dir, name+".json")
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal workflow %s: %w", w.ID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("orchestrator: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: rename into place: %w", err)
	}
	return nil
}
