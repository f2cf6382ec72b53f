// Package dto defines the request and response envelopes for the agent API.
package dto

import (
	"time"

	"github.com/agentmux/agentmux/internal/agent/registry"
	"github.com/agentmux/agentmux/internal/orchestrator/launchqueue"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// CreateAgentRequest is the POST /agents payload.
type CreateAgentRequest struct {
	AgentType     string                 `json:"agent_type"`
	Prompt        string                 `json:"prompt"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Instructions  string                 `json:"instructions,omitempty"`
}

// TerminateAgentRequest is the optional POST /agents/:id/terminate payload.
type TerminateAgentRequest struct {
	Force bool `json:"force,omitempty"`
}

type ListAgentsResponse struct {
	Agents []*v1.Agent `json:"agents"`
	Total  int         `json:"total"`
}

type ListMessagesResponse struct {
	AgentID  string             `json:"agent_id"`
	Messages []*v1.AgentMessage `json:"messages"`
	Total    int                `json:"total"`
}

// QueuedLaunchDTO describes one pending entry in the launch queue. Position
// is the zero-based place in line at snapshot time.
type QueuedLaunchDTO struct {
	ID        string    `json:"id"`
	AgentType string    `json:"agent_type"`
	Prompt    string    `json:"prompt"`
	Position  int       `json:"position"`
	QueuedAt  time.Time `json:"queued_at"`
}

type ListLaunchesResponse struct {
	Launches []QueuedLaunchDTO `json:"launches"`
	Total    int               `json:"total"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// RunnerTypeDTO describes one launchable runner from the catalog.
type RunnerTypeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Protocol    string `json:"protocol"`
	Enabled     bool   `json:"enabled"`
}

type ListRunnerTypesResponse struct {
	RunnerTypes []RunnerTypeDTO `json:"runner_types"`
	Total       int             `json:"total"`
}

// FromPending converts a queue entry to its wire shape.
func FromPending(p *launchqueue.Pending, position int) QueuedLaunchDTO {
	req := p.Request()
	return QueuedLaunchDTO{
		ID:        req.ID,
		AgentType: req.AgentType,
		Prompt:    req.Prompt,
		Position:  position,
		QueuedAt:  p.QueuedAt(),
	}
}

// FromRunnerConfig converts a catalog entry to its wire shape.
func FromRunnerConfig(cfg *registry.RunnerConfig) RunnerTypeDTO {
	return RunnerTypeDTO{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Protocol:    string(cfg.Protocol),
		Enabled:     cfg.Enabled,
	}
}
