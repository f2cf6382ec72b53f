// Package registry holds the catalog of launchable runner types: which
// protocol they speak, how their process or endpoint is addressed, and which
// parser decodes their stream.
package registry

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentmux/agentmux/internal/common/logger"
)

// RunnersPathEnv names an external catalog file that replaces the embedded one.
const RunnersPathEnv = "AGENTMUX_RUNNERS_PATH"

//go:embed runners.yaml
var runnersFS embed.FS

var (
	// ErrUnknownRunner is returned for agent types not in the catalog.
	ErrUnknownRunner = errors.New("unknown runner type")
	// ErrRunnerDisabled is returned when launching a disabled agent type.
	ErrRunnerDisabled = errors.New("runner type is disabled")
)

// Protocol selects the runner variant used for an agent type.
type Protocol string

const (
	// ProtocolCLI spawns a local subprocess and reads stream-json from stdout.
	ProtocolCLI Protocol = "cli"
	// ProtocolHTTP posts to a streaming HTTP service emitting NDJSON.
	ProtocolHTTP Protocol = "http"
	// ProtocolSSE posts to a sidecar emitting server-sent events.
	ProtocolSSE Protocol = "sse"
	// ProtocolSynthetic replays a scripted schedule from the launch configuration.
	ProtocolSynthetic Protocol = "synthetic"
)

// promptPlaceholder is substituted with the launch prompt in arg templates.
const promptPlaceholder = "{{prompt}}"

// runnersConfig is the structure of the runners.yaml file
type runnersConfig struct {
	Version string          `yaml:"version"`
	Runners []*RunnerConfig `yaml:"runners"`
}

// RunnerConfig describes one launchable agent type.
type RunnerConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Protocol    Protocol          `yaml:"protocol" json:"protocol"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	// BaseURLKey names the runner config field that supplies the endpoint
	// for http and sse runners ("sdk_base_url" or "sidecar_url").
	BaseURLKey string `yaml:"base_url_key,omitempty" json:"base_url_key,omitempty"`
	// Parser is "claude" or "gemini"; empty means the raw line is dropped.
	Parser  string `yaml:"parser,omitempty" json:"parser,omitempty"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// ExpandArgs renders the argument template for a launch prompt.
func (c *RunnerConfig) ExpandArgs(prompt string) []string {
	if len(c.Args) == 0 {
		return nil
	}
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = strings.ReplaceAll(arg, promptPlaceholder, prompt)
	}
	return args
}

// EnvSlice returns the configured environment as KEY=VALUE pairs in a
// stable order.
func (c *RunnerConfig) EnvSlice() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Registry manages runner type configurations
type Registry struct {
	runners map[string]*RunnerConfig
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewRegistry creates an empty runner registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		runners: make(map[string]*RunnerConfig),
		logger:  log,
	}
}

// Load fills the registry from the embedded catalog, or from the file named
// by AGENTMUX_RUNNERS_PATH when set.
func (r *Registry) Load() error {
	if path := os.Getenv(RunnersPathEnv); path != "" {
		return r.LoadFromFile(path)
	}
	return r.LoadDefaults()
}

// LoadDefaults loads the embedded runner catalog.
func (r *Registry) LoadDefaults() error {
	data, err := runnersFS.ReadFile("runners.yaml")
	if err != nil {
		return fmt.Errorf("read embedded runner catalog: %w", err)
	}
	return r.loadCatalog(data)
}

// LoadFromFile loads a runner catalog from a YAML file.
func (r *Registry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}
	return r.loadCatalog(data)
}

func (r *Registry) loadCatalog(data []byte) error {
	var cfg runnersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse runner catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, config := range cfg.Runners {
		if err := ValidateConfig(config); err != nil {
			r.logger.Warn("skipping invalid runner config",
				zap.String("id", config.ID),
				zap.Error(err))
			continue
		}
		r.runners[config.ID] = config
		r.logger.Info("loaded runner type",
			zap.String("id", config.ID),
			zap.String("protocol", string(config.Protocol)))
	}
	return nil
}

// Register adds a new runner type
func (r *Registry) Register(config *RunnerConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[config.ID]; exists {
		return fmt.Errorf("runner type %q already registered", config.ID)
	}

	r.runners[config.ID] = config
	r.logger.Info("registered runner type", zap.String("id", config.ID))
	return nil
}

// Unregister removes a runner type
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownRunner, id)
	}

	delete(r.runners, id)
	r.logger.Info("unregistered runner type", zap.String("id", id))
	return nil
}

// Get returns a runner type configuration
func (r *Registry) Get(id string) (*RunnerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.runners[id]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunner, id)
	}
	return config, nil
}

// List returns all registered runner types ordered by id
func (r *Registry) List() []*RunnerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RunnerConfig, 0, len(r.runners))
	for _, config := range r.runners {
		result = append(result, config)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListEnabled returns only enabled runner types ordered by id
func (r *Registry) ListEnabled() []*RunnerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RunnerConfig, 0, len(r.runners))
	for _, config := range r.runners {
		if config.Enabled {
			result = append(result, config)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Exists checks if a runner type exists
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.runners[id]
	return exists
}

// ValidateConfig validates a runner type configuration
func ValidateConfig(config *RunnerConfig) error {
	if config.ID == "" {
		return fmt.Errorf("runner id is required")
	}
	if config.Name == "" {
		return fmt.Errorf("runner name is required")
	}
	switch config.Protocol {
	case ProtocolCLI:
		if config.Command == "" {
			return fmt.Errorf("cli runner requires a command")
		}
	case ProtocolHTTP, ProtocolSSE:
		if config.BaseURLKey == "" {
			return fmt.Errorf("%s runner requires a base_url_key", config.Protocol)
		}
	case ProtocolSynthetic:
	default:
		return fmt.Errorf("unknown runner protocol %q", config.Protocol)
	}
	switch config.Parser {
	case "", "claude", "gemini":
	default:
		return fmt.Errorf("unknown parser %q", config.Parser)
	}
	return nil
}
