// Package workflowtrigger holds the project/global workflow definitions,
// run-start trigger matching, and workflow_progress application
// (spec.md §4.6). The registry shape and step-lookup helpers follow
// cortex's internal/workflow/types.go, generalized from bead-label
// matching to the task_contains trigger this spec uses.
package workflowtrigger

// TriggerMode is the only recognized trigger kind (spec.md §4.6).
type TriggerMode string

const TriggerTaskContains TriggerMode = "task_contains"

// Trigger describes how a workflow auto-activates at run start.
type Trigger struct {
	Mode    TriggerMode `toml:"mode" json:"mode"`
	Pattern string      `toml:"pattern" json:"pattern"`
}

// Step is one named stage in a workflow's cursor.
type Step struct {
	ID   string `toml:"id" json:"id"`
	Name string `toml:"name" json:"name"`
}

// Workflow is a project- or global-scoped pipeline definition.
type Workflow struct {
	ID      string  `toml:"id" json:"id"`
	Name    string  `toml:"name" json:"name"`
	Enabled bool    `toml:"enabled" json:"enabled"`
	Trigger Trigger `toml:"trigger" json:"trigger"`
	Steps   []Step  `toml:"steps" json:"steps"`
}

// StepIndex returns the index of a step by id, or -1 if not found.
func (w *Workflow) StepIndex(id string) int {
	for i, s := range w.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// FirstStepID returns the id of the first step, or "" if the workflow has
// no steps.
func (w *Workflow) FirstStepID() string {
	if len(w.Steps) == 0 {
		return ""
	}
	return w.Steps[0].ID
}

// Registry holds the effective (merged) set of workflows for one run.
type Registry struct {
	workflows map[string]*Workflow
	order     []string
}

// Merge builds the effective registry: project ∪ (global with project
// overrides applied). Where the same id exists in both, the project
// record wins entirely (spec.md §4.6 "Project precedence").
func Merge(project, global []Workflow) *Registry {
	r := &Registry{workflows: make(map[string]*Workflow)}
	seen := make(map[string]bool)
	for i := range project {
		w := project[i]
		r.workflows[w.ID] = &w
		if !seen[w.ID] {
			r.order = append(r.order, w.ID)
			seen[w.ID] = true
		}
	}
	for i := range global {
		w := global[i]
		if _, exists := r.workflows[w.ID]; exists {
			continue
		}
		r.workflows[w.ID] = &w
		if !seen[w.ID] {
			r.order = append(r.order, w.ID)
			seen[w.ID] = true
		}
	}
	return r
}

// Get returns a workflow by id, or nil if not found.
func (r *Registry) Get(id string) *Workflow {
	return r.workflows[id]
}

// Enabled returns the effective workflows in stable (project-first,
// then global) order, filtered to enabled ones.
func (r *Registry) Enabled() []*Workflow {
	out := make([]*Workflow, 0, len(r.order))
	for _, id := range r.order {
		w := r.workflows[id]
		if w.Enabled {
			out = append(out, w)
		}
	}
	return out
}
