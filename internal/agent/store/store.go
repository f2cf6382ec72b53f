// Package store defines the storage interface for agents and their
// message streams.
package store

import (
	"context"
	"errors"

	"github.com/agentmux/agentmux/internal/agent/models"
)

// ErrAgentNotFound is returned when an agent id does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// ErrMessageNotFound is returned when a message id does not exist.
var ErrMessageNotFound = errors.New("message not found")

// Store defines the interface for agent storage operations
type Store interface {
	// Agent operations
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)

	// Message operations. CreateMessage assigns the per-agent sequence
	// number atomically; message content must already be text (the service
	// layer encodes structured content before it reaches the store).
	CreateMessage(ctx context.Context, message *models.AgentMessage) error
	GetMessage(ctx context.Context, id string) (*models.AgentMessage, error)
	ListMessages(ctx context.Context, agentID string) ([]*models.AgentMessage, error)
	ListMessagesSince(ctx context.Context, agentID string, sinceSeq int64) ([]*models.AgentMessage, error)

	Close() error
}
