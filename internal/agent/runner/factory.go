package runner

import (
	"fmt"
	"time"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/agent/registry"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// Registry config keys that http and sse catalog entries can point at.
const (
	baseURLKeySDK     = "sdk_base_url"
	baseURLKeySidecar = "sidecar_url"
)

// FactoryConfig carries the process-level settings runners inherit.
type FactoryConfig struct {
	// WorkDir is where cli runners execute and the instruction file lands.
	WorkDir string
	// StopGrace is how long a runner gets between SIGTERM and SIGKILL.
	StopGrace time.Duration
	// SDKBaseURL is the endpoint for http runners.
	SDKBaseURL string
	// SidecarURL is the endpoint for sse runners.
	SidecarURL string
}

// Factory builds the runner variant the catalog prescribes for an agent type.
// All runners it creates stream into the same sink.
type Factory struct {
	registry *registry.Registry
	config   FactoryConfig
	sink     Sink
	logger   *logger.Logger
}

// NewFactory creates a runner factory over the given catalog and sink.
func NewFactory(reg *registry.Registry, cfg FactoryConfig, sink Sink, log *logger.Logger) *Factory {
	return &Factory{
		registry: reg,
		config:   cfg,
		sink:     sink,
		logger:   log,
	}
}

// NewRunner builds a runner for the agent according to its catalog entry.
func (f *Factory) NewRunner(agent *models.Agent, req *models.LaunchRequest, onExit ExitFunc) (Runner, error) {
	cfg, err := f.registry.Get(req.AgentType)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %q", registry.ErrRunnerDisabled, cfg.ID)
	}

	switch cfg.Protocol {
	case registry.ProtocolCLI:
		p, perr := parser.New(cfg.Parser)
		if perr != nil {
			return nil, perr
		}
		return NewSubprocessRunner(SubprocessConfig{
			AgentID:      agent.ID,
			Command:      cfg.Command,
			Args:         cfg.ExpandArgs(req.Prompt),
			Env:          cfg.EnvSlice(),
			WorkDir:      f.config.WorkDir,
			Instructions: req.Instructions,
			StopGrace:    f.config.StopGrace,
		}, p, f.sink, onExit, f.logger), nil

	case registry.ProtocolHTTP:
		baseURL, uerr := f.baseURL(cfg)
		if uerr != nil {
			return nil, uerr
		}
		p, perr := parser.New(cfg.Parser)
		if perr != nil {
			return nil, perr
		}
		return NewHTTPStreamRunner(HTTPStreamConfig{
			AgentID: agent.ID,
			BaseURL: baseURL,
			Prompt:  req.Prompt,
			Options: req.Configuration,
		}, p, f.sink, onExit, f.logger), nil

	case registry.ProtocolSSE:
		baseURL, uerr := f.baseURL(cfg)
		if uerr != nil {
			return nil, uerr
		}
		p, perr := parser.New(cfg.Parser)
		if perr != nil {
			return nil, perr
		}
		return NewSSERunner(SSEConfig{
			AgentID: agent.ID,
			URL:     baseURL,
			Prompt:  req.Prompt,
			Options: req.Configuration,
		}, p, f.sink, onExit, f.logger), nil

	case registry.ProtocolSynthetic:
		return NewSyntheticRunner(SyntheticConfig{
			AgentID:       agent.ID,
			Configuration: req.Configuration,
		}, f.sink, onExit, f.logger)

	default:
		return nil, fmt.Errorf("%w: protocol %q", registry.ErrUnknownRunner, cfg.Protocol)
	}
}

// baseURL resolves a catalog base_url_key against the factory configuration.
func (f *Factory) baseURL(cfg *registry.RunnerConfig) (string, error) {
	switch cfg.BaseURLKey {
	case baseURLKeySDK:
		if f.config.SDKBaseURL == "" {
			return "", fmt.Errorf("runner %q requires runner.sdk_base_url to be configured", cfg.ID)
		}
		return f.config.SDKBaseURL, nil
	case baseURLKeySidecar:
		if f.config.SidecarURL == "" {
			return "", fmt.Errorf("runner %q requires runner.sidecar_url to be configured", cfg.ID)
		}
		return f.config.SidecarURL, nil
	default:
		return "", fmt.Errorf("runner %q has unknown base_url_key %q", cfg.ID, cfg.BaseURLKey)
	}
}
