package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/mindmediator"
)

// schemaNames are the thirteen schemas the core references (spec.md §6
// "Required schemas referenced by the core").
var schemaNames = []string{
	"extract_evidence",
	"risk_judge",
	"plan_min_checks",
	"auto_answer_to_hands",
	"decide_next",
	"loop_break",
	"workflow_progress",
	"suggest_workflow",
	"mine_preferences",
	"mine_claims",
	"checkpoint_decide",
	"learn_update",
	"why_trace",
}

// LoadSchemas reads every mi/schemas/<name>.json file under dir and returns
// them keyed by name, loading each verbatim the way spec.md §6 requires
// ("the runtime loads it verbatim and embeds it in the user prompt").
func LoadSchemas(dir string) (Schemas, error) {
	out := make(Schemas, len(schemaNames))
	for _, name := range schemaNames {
		path := filepath.Join(dir, name+".json")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: reading schema %s: %w", path, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("orchestrator: parsing schema %s: %w", path, err)
		}
		out[name] = mindmediator.Schema{
			Name: name,
			Doc:  doc,
			Raw:  strings.TrimSpace(string(raw)),
		}
	}
	return out, nil
}
