// Package service sits between the streaming pipeline and the store: it
// encodes structured message content for persistence, reconstitutes it on
// read, and maps driver-level constraint errors to domain errors.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/db/dialect"
)

// Service provides persistence operations for agents and their messages.
type Service struct {
	store  store.Store
	logger *logger.Logger
}

// NewService creates a message service backed by the given store.
func NewService(st store.Store, log *logger.Logger) *Service {
	return &Service{
		store:  st,
		logger: log.WithFields(zap.String("component", "agent-service")),
	}
}

// SaveMessage persists a stream message, assigning its sequence number.
// A foreign key violation means the agent row is gone (deleted mid-stream)
// and is reported as store.ErrAgentNotFound so callers can drop the event.
func (s *Service) SaveMessage(ctx context.Context, msg *models.AgentMessage) error {
	if err := encodeContent(msg); err != nil {
		return err
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if dialect.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrAgentNotFound, msg.AgentID)
		}
		return err
	}
	return decodeContent(msg)
}

// GetAgent retrieves an agent by ID.
func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// ListAgents returns all agents, newest first.
func (s *Service) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	return s.store.ListAgents(ctx)
}

// ListMessages returns the ordered message history for an agent.
func (s *Service) ListMessages(ctx context.Context, agentID string) ([]*models.AgentMessage, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.decodeAll(messages)
	return messages, nil
}

// ListMessagesSince returns messages with sequence numbers greater than
// sinceSeq, in order. This is the gap-fill query behind `?since_seq=`.
func (s *Service) ListMessagesSince(ctx context.Context, agentID string, sinceSeq int64) ([]*models.AgentMessage, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessagesSince(ctx, agentID, sinceSeq)
	if err != nil {
		return nil, err
	}
	s.decodeAll(messages)
	return messages, nil
}

// decodeAll reconstitutes structured content in place. A row that fails to
// decode keeps its raw text; one bad row must not hide the rest of the
// stream.
func (s *Service) decodeAll(messages []*models.AgentMessage) {
	for _, msg := range messages {
		if err := decodeContent(msg); err != nil {
			s.logger.Warn("failed to decode message content",
				zap.String("message_id", msg.ID),
				zap.String("agent_id", msg.AgentID),
				zap.Error(err))
		}
	}
}

// encodeContent rewrites non-string content as JSON text and marks the
// message so reads can reconstitute the original value.
func encodeContent(msg *models.AgentMessage) error {
	switch msg.Content.(type) {
	case nil:
		msg.Content = ""
	case string:
	default:
		data, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to encode message content: %w", err)
		}
		msg.Content = string(data)
		msg.SetMeta("content_type", "json")
	}
	return nil
}

// decodeContent reverses encodeContent.
func decodeContent(msg *models.AgentMessage) error {
	contentType, _ := msg.Metadata["content_type"].(string)
	if contentType != "json" {
		return nil
	}
	text, ok := msg.Content.(string)
	if !ok {
		return nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return fmt.Errorf("failed to decode message content: %w", err)
	}
	msg.Content = value
	return nil
}
