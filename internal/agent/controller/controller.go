// Package controller provides the business logic coordination layer for the
// agent API, translating between wire envelopes and the orchestrator.
package controller

import (
	"context"

	"github.com/agentmux/agentmux/internal/agent/dto"
	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/registry"
	agentservice "github.com/agentmux/agentmux/internal/agent/service"
	"github.com/agentmux/agentmux/internal/orchestrator"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Controller coordinates agent API operations across the orchestrator, the
// persistence service and the runner catalog.
type Controller struct {
	orch     *orchestrator.Service
	agents   *agentservice.Service
	registry *registry.Registry
}

// NewController creates a new agent controller.
func NewController(orch *orchestrator.Service, agents *agentservice.Service, reg *registry.Registry) *Controller {
	return &Controller{
		orch:     orch,
		agents:   agents,
		registry: reg,
	}
}

// LaunchAgent validates the runner type, enqueues a launch and waits for its
// outcome. The agent type is checked up front so an unknown or disabled type
// fails fast instead of occupying a queue slot.
func (c *Controller) LaunchAgent(ctx context.Context, req dto.CreateAgentRequest) (*v1.Agent, error) {
	cfg, err := c.registry.Get(req.AgentType)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, registry.ErrRunnerDisabled
	}

	launch := models.NewLaunchRequest(req.AgentType, req.Prompt, req.Configuration)
	launch.Instructions = req.Instructions

	agent, err := c.orch.Launch(ctx, launch)
	if err != nil {
		return nil, err
	}
	return agent.ToAPI(), nil
}

// ListAgents returns all known agents.
func (c *Controller) ListAgents(ctx context.Context) (dto.ListAgentsResponse, error) {
	agents, err := c.agents.ListAgents(ctx)
	if err != nil {
		return dto.ListAgentsResponse{}, err
	}
	out := make([]*v1.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.ToAPI())
	}
	return dto.ListAgentsResponse{Agents: out, Total: len(out)}, nil
}

// GetAgent returns one agent by id.
func (c *Controller) GetAgent(ctx context.Context, id string) (*v1.Agent, error) {
	agent, err := c.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return agent.ToAPI(), nil
}

// DeleteAgent stops any live runner and removes the agent with its history.
func (c *Controller) DeleteAgent(ctx context.Context, id string) error {
	return c.orch.DeleteAgent(ctx, id)
}

// TerminateAgent stops a live agent and returns its persisted final state.
func (c *Controller) TerminateAgent(ctx context.Context, id string, force bool) (*v1.Agent, error) {
	if err := c.orch.Terminate(ctx, id, force); err != nil {
		return nil, err
	}
	return c.GetAgent(ctx, id)
}

// PauseAgent suspends a running agent.
func (c *Controller) PauseAgent(ctx context.Context, id string) (*v1.Agent, error) {
	if err := c.orch.Pause(ctx, id); err != nil {
		return nil, err
	}
	return c.GetAgent(ctx, id)
}

// ResumeAgent continues a paused agent.
func (c *Controller) ResumeAgent(ctx context.Context, id string) (*v1.Agent, error) {
	if err := c.orch.Resume(ctx, id); err != nil {
		return nil, err
	}
	return c.GetAgent(ctx, id)
}

// ListMessages returns the ordered message history for an agent. A non-nil
// sinceSeq narrows the result to sequence numbers strictly greater than it,
// which is what gap-filling clients request.
func (c *Controller) ListMessages(ctx context.Context, agentID string, sinceSeq *int64) (dto.ListMessagesResponse, error) {
	var (
		messages []*models.AgentMessage
		err      error
	)
	if sinceSeq != nil {
		messages, err = c.agents.ListMessagesSince(ctx, agentID, *sinceSeq)
	} else {
		messages, err = c.agents.ListMessages(ctx, agentID)
	}
	if err != nil {
		return dto.ListMessagesResponse{}, err
	}

	out := make([]*v1.AgentMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToAPI())
	}
	return dto.ListMessagesResponse{AgentID: agentID, Messages: out, Total: len(out)}, nil
}

// ListLaunches returns a snapshot of the launch queue in arrival order.
func (c *Controller) ListLaunches() dto.ListLaunchesResponse {
	pending := c.orch.QueueSnapshot()
	launches := make([]dto.QueuedLaunchDTO, 0, len(pending))
	for i, p := range pending {
		launches = append(launches, dto.FromPending(p, i))
	}
	return dto.ListLaunchesResponse{Launches: launches, Total: len(launches)}
}

// CancelLaunch removes a still-queued launch request.
func (c *Controller) CancelLaunch(ctx context.Context, requestID string) error {
	return c.orch.CancelLaunch(ctx, requestID)
}

// ListRunnerTypes returns the runner catalog.
func (c *Controller) ListRunnerTypes() dto.ListRunnerTypesResponse {
	configs := c.registry.List()
	types := make([]dto.RunnerTypeDTO, 0, len(configs))
	for _, cfg := range configs {
		types = append(types, dto.FromRunnerConfig(cfg))
	}
	return dto.ListRunnerTypesResponse{RunnerTypes: types, Total: len(types)}
}

// Status returns the orchestrator status snapshot.
func (c *Controller) Status() *orchestrator.Status {
	return c.orch.GetStatus()
}
