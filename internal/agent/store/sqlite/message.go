package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/db/dialect"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// maxSequenceRetries bounds the retry loop when concurrent writers race the
// MAX(sequence_number) read and collide on UNIQUE (agent_id, sequence_number).
const maxSequenceRetries = 5

// Message operations

// CreateMessage persists a message and assigns its sequence number. The
// INSERT computes MAX(sequence_number)+1 in the same statement, so the
// sequence is gapless and strictly increasing per agent; losers of a
// concurrent race hit the UNIQUE constraint and retry.
func (r *Repository) CreateMessage(ctx context.Context, message *models.AgentMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Type == "" {
		message.Type = v1.AgentMessageTypeSystem
	}

	content, err := contentText(message.Content)
	if err != nil {
		return err
	}

	metadataJSON := "{}"
	if message.Metadata != nil {
		metadataBytes, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize message metadata: %w", err)
		}
		metadataJSON = string(metadataBytes)
	}

	query := r.db.Rebind(`
		INSERT INTO agent_messages (id, agent_id, sequence_number, type, role, content, metadata, created_at)
		SELECT ?, ?, COALESCE(MAX(sequence_number), 0) + 1, ?, ?, ?, ?, ?
		FROM agent_messages WHERE agent_id = ?
	`)

	var lastErr error
	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		_, err := r.db.ExecContext(ctx, query,
			message.ID, message.AgentID, message.Type, message.Role,
			content, metadataJSON, message.CreatedAt, message.AgentID)
		if err == nil {
			seqQuery := r.db.Rebind(`SELECT sequence_number FROM agent_messages WHERE id = ?`)
			return r.db.QueryRowContext(ctx, seqQuery, message.ID).Scan(&message.SequenceNumber)
		}
		if dialect.IsUniqueViolation(err) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("failed to assign sequence number after %d attempts: %w", maxSequenceRetries, lastErr)
}

// GetMessage retrieves a message by ID.
func (r *Repository) GetMessage(ctx context.Context, id string) (*models.AgentMessage, error) {
	query := r.ro.Rebind(`
		SELECT id, agent_id, sequence_number, type, role, content, metadata, created_at
		FROM agent_messages WHERE id = ?
	`)
	message, err := scanMessage(r.ro.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrMessageNotFound, id)
	}
	return message, err
}

// ListMessages returns the full message stream for an agent in sequence order.
func (r *Repository) ListMessages(ctx context.Context, agentID string) ([]*models.AgentMessage, error) {
	query := r.ro.Rebind(`
		SELECT id, agent_id, sequence_number, type, role, content, metadata, created_at
		FROM agent_messages WHERE agent_id = ? ORDER BY sequence_number ASC
	`)
	return r.queryMessages(ctx, query, agentID)
}

// ListMessagesSince returns messages with sequence_number > sinceSeq in
// sequence order. Clients use it to fill gaps after missed realtime pushes.
func (r *Repository) ListMessagesSince(ctx context.Context, agentID string, sinceSeq int64) ([]*models.AgentMessage, error) {
	query := r.ro.Rebind(`
		SELECT id, agent_id, sequence_number, type, role, content, metadata, created_at
		FROM agent_messages WHERE agent_id = ? AND sequence_number > ? ORDER BY sequence_number ASC
	`)
	return r.queryMessages(ctx, query, agentID, sinceSeq)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.AgentMessage, error) {
	rows, err := r.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AgentMessage
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanMessage(row scanner) (*models.AgentMessage, error) {
	message := &models.AgentMessage{}
	var content string
	var metadataJSON string
	err := row.Scan(&message.ID, &message.AgentID, &message.SequenceNumber,
		&message.Type, &message.Role, &content, &metadataJSON, &message.CreatedAt)
	if err != nil {
		return nil, err
	}
	message.Content = content
	message.CreatedAt = message.CreatedAt.UTC()
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &message.Metadata); err != nil {
			return nil, fmt.Errorf("failed to deserialize message metadata: %w", err)
		}
	}
	return message, nil
}

// contentText enforces the store boundary contract: structured content is
// JSON-encoded by the service layer before persistence.
func contentText(content interface{}) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("message content must be text at the store boundary, got %T", content)
	}
}
