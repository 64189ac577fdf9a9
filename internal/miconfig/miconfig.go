// Package miconfig loads and validates MI's TOML configuration: provider
// credentials, interrupt policy, checkpoint cadence, and per-project
// overrides (SPEC_FULL.md §A "Config").
package miconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is MI's top-level configuration, loaded from mi.toml.
type Config struct {
	General    General             `toml:"general"`
	Providers  map[string]Provider `toml:"providers"`
	Hands      Hands               `toml:"hands"`
	Interrupt  Interrupt           `toml:"interrupt"`
	Checkpoint Checkpoint          `toml:"checkpoint"`
	Memory     Memory              `toml:"memory"`
	Projects   map[string]Project  `toml:"projects"`
}

// General holds home-directory and run-loop defaults shared across projects.
type General struct {
	Home             string   `toml:"home"` // default ~/.mind-incarnation
	MaxBatches       int      `toml:"max_batches"`
	BatchTimeout     Duration `toml:"batch_timeout"`
	MindTimeout      Duration `toml:"mind_timeout"` // Mind HTTP per-request timeout, default 60s
	LogLevel         string   `toml:"log_level"`
	SegmentMax       int      `toml:"segment_max"` // default 40
	MindProvider     string   `toml:"mind_provider"` // key into Providers to use this run
}

// Hands configures which Hands supervisor backs a run (spec.md §9
// "Variants are codex | cli" plus the docker variant SPEC_FULL.md §B adds).
type Hands struct {
	Kind       string   `toml:"kind"` // codex | cli | docker
	BinPath    string   `toml:"bin_path"`
	Args       []string `toml:"args"`        // cli variant argv template
	PromptMode string   `toml:"prompt_mode"` // cli variant: stdin | arg
	Image      string   `toml:"image"`       // docker variant
}

// Provider configures one Mind backend: its kind (codex_schema,
// openai_compatible, anthropic), model, and credential source.
type Provider struct {
	Kind       string `toml:"kind"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	APIKeyEnv  string `toml:"api_key_env"`
	MaxRetries int    `toml:"max_retries"`
}

// Interrupt governs the escalating signal sequence sent to a Hands
// subprocess whose just-started command matches the configured mode
// (spec.md §4.1 "interrupt_cfg").
type Interrupt struct {
	Mode          string   `toml:"mode"`    // off | on_high_risk | on_any_external
	Signals       []string `toml:"signals"` // e.g. ["SIGINT", "SIGTERM", "SIGKILL"]
	GraceInterval Duration `toml:"grace_interval"`
	EscalateAfter Duration `toml:"escalate_after"`
}

// Checkpoint configures the segment-mining cadence, including an optional
// cron-style secondary trigger independent of Mind's checkpoint_decide.
type Checkpoint struct {
	SegmentMax               int    `toml:"segment_max"`
	CronSpec                 string `toml:"cron_spec"` // optional 5-field spec, e.g. "*/15 * * * *"
	WorkflowAutoMine         bool   `toml:"wf_auto_mine"`
	PreferenceAutoMine       bool   `toml:"pref_auto_mine"`
	ClaimAutoMine            bool   `toml:"tdb_auto_mine"`
	AutoNodes                bool   `toml:"tdb_auto_nodes"`
	MinOccurrences           int    `toml:"min_occurrences"`
	AllowSingleIfHighBenefit bool   `toml:"allow_single_if_high_benefit"`
}

// Memory configures the cross-project recall backend.
type Memory struct {
	Backend string `toml:"backend"` // sqlite_fts | in_memory
	DBPath  string `toml:"db_path"`
}

// Project carries per-project overrides layered onto General/Providers.
type Project struct {
	Root                     string   `toml:"root"`
	GlobalWorkflowOverrides  []string `toml:"global_workflow_overrides"`
	HostBindings             []string `toml:"host_bindings"`
}

// ConfigManager provides thread-safe access to live configuration, mirroring
// the teacher's RWMutex-backed manager so the orchestrator can hot-reload
// mi.toml between batches without interrupting an in-flight run.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

type rwMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) ConfigManager {
	return &rwMutexManager{cfg: initial.Clone()}
}

func (m *rwMutexManager) Get() *Config {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

func (m *rwMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

func (m *rwMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("miconfig: manager is nil")
	}
	loaded, err := Load(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = loaded.Clone()
	return nil
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Providers = cloneProviderMap(cfg.Providers)
	cloned.Projects = cloneProjectMap(cfg.Projects)
	cloned.Interrupt.Signals = cloneStringSlice(cfg.Interrupt.Signals)
	cloned.Hands.Args = cloneStringSlice(cfg.Hands.Args)
	return &cloned
}

func cloneProviderMap(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneProjectMap(in map[string]Project) map[string]Project {
	if in == nil {
		return nil
	}
	out := make(map[string]Project, len(in))
	for k, v := range in {
		v.GlobalWorkflowOverrides = cloneStringSlice(v.GlobalWorkflowOverrides)
		v.HostBindings = cloneStringSlice(v.HostBindings)
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates mi.toml at path, applying defaults and expanding
// home-relative paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("miconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("miconfig: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("miconfig: validating %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadManager reads config from path and returns an RWMutex-backed manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("miconfig: config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.Home == "" {
		cfg.General.Home = "~/.mind-incarnation"
	}
	if cfg.General.MaxBatches == 0 {
		cfg.General.MaxBatches = 1
	}
	if cfg.General.MindTimeout.Duration == 0 {
		cfg.General.MindTimeout.Duration = 60 * time.Second
	}
	if cfg.General.SegmentMax == 0 {
		cfg.General.SegmentMax = 40
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.Checkpoint.SegmentMax == 0 {
		cfg.Checkpoint.SegmentMax = cfg.General.SegmentMax
	}
	if cfg.Checkpoint.MinOccurrences == 0 {
		cfg.Checkpoint.MinOccurrences = 2
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "sqlite_fts"
	}
	if cfg.Hands.Kind == "" {
		cfg.Hands.Kind = "codex"
	}
	if cfg.Interrupt.Mode == "" {
		cfg.Interrupt.Mode = "off"
	}
	if len(cfg.Interrupt.Signals) == 0 {
		cfg.Interrupt.Signals = []string{"SIGINT", "SIGTERM"}
	}
	if cfg.Interrupt.GraceInterval.Duration == 0 {
		cfg.Interrupt.GraceInterval.Duration = 5 * time.Second
	}
	if cfg.Interrupt.EscalateAfter.Duration == 0 {
		cfg.Interrupt.EscalateAfter.Duration = 15 * time.Second
	}
	for name, p := range cfg.Providers {
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
			cfg.Providers[name] = p
		}
	}
}

func normalizePaths(cfg *Config) {
	cfg.General.Home = ExpandHome(strings.TrimSpace(cfg.General.Home))
	cfg.Memory.DBPath = ExpandHome(strings.TrimSpace(cfg.Memory.DBPath))
	for name, project := range cfg.Projects {
		project.Root = ExpandHome(strings.TrimSpace(project.Root))
		cfg.Projects[name] = project
	}
}

func validate(cfg *Config) error {
	if cfg.General.Home == "" {
		return fmt.Errorf("general.home must not be empty")
	}
	if cfg.Memory.Backend != "sqlite_fts" && cfg.Memory.Backend != "in_memory" {
		return fmt.Errorf("memory.backend must be sqlite_fts or in_memory, got %q", cfg.Memory.Backend)
	}
	for name, p := range cfg.Providers {
		switch p.Kind {
		case "codex_schema", "openai_compatible", "anthropic":
		default:
			return fmt.Errorf("providers.%s: unknown kind %q", name, p.Kind)
		}
	}
	switch cfg.Hands.Kind {
	case "codex", "cli", "docker":
	default:
		return fmt.Errorf("hands.kind must be codex, cli, or docker, got %q", cfg.Hands.Kind)
	}
	switch cfg.Interrupt.Mode {
	case "off", "on_high_risk", "on_any_external":
	default:
		return fmt.Errorf("interrupt.mode must be off, on_high_risk, or on_any_external, got %q", cfg.Interrupt.Mode)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
