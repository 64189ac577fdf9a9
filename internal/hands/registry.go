package hands

import "fmt"

// New constructs a Supervisor for one of the providers named in spec.md §9
// ("Variants are codex | cli" plus the docker variant this repo adds per
// SPEC_FULL.md §B).
func New(provider string, opts map[string]any) (Supervisor, error) {
	switch provider {
	case "codex":
		bin, _ := opts["bin_path"].(string)
		return &CodexSupervisor{BinPath: bin}, nil
	case "cli":
		bin, _ := opts["bin_path"].(string)
		args, _ := opts["args"].([]string)
		mode, _ := opts["prompt_mode"].(string)
		return &CLISupervisor{BinPath: bin, Args: args, PromptMode: PromptMode(mode)}, nil
	case "docker":
		image, _ := opts["image"].(string)
		return &DockerSupervisor{Image: image}, nil
	default:
		return nil, fmt.Errorf("hands: unknown provider %q", provider)
	}
}
