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
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Agent operations

// CreateAgent persists a new agent row.
func (r *Repository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Status == "" {
		agent.Status = v1.AgentStatusInitializing
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	configJSON, err := marshalConfig(agent.Configuration)
	if err != nil {
		return fmt.Errorf("failed to serialize agent configuration: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO agents (id, type, status, prompt, configuration, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.ExecContext(ctx, query,
		agent.ID, agent.Type, agent.Status, agent.Prompt, configJSON, agent.Error,
		agent.CreatedAt, nullableTime(agent.StartedAt), nullableTime(agent.CompletedAt))
	return err
}

// GetAgent retrieves an agent by ID.
func (r *Repository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	query := r.ro.Rebind(`
		SELECT id, type, status, prompt, configuration, error, created_at, started_at, completed_at
		FROM agents WHERE id = ?
	`)
	agent, err := scanAgent(r.ro.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAgentNotFound, id)
	}
	return agent, err
}

// UpdateAgent rewrites every mutable column of the agent row. Lifecycle
// decisions happen on the model; the store never updates partial state.
func (r *Repository) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	configJSON, err := marshalConfig(agent.Configuration)
	if err != nil {
		return fmt.Errorf("failed to serialize agent configuration: %w", err)
	}

	query := r.db.Rebind(`
		UPDATE agents
		SET type = ?, status = ?, prompt = ?, configuration = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`)
	result, err := r.db.ExecContext(ctx, query,
		agent.Type, agent.Status, agent.Prompt, configJSON, agent.Error,
		nullableTime(agent.StartedAt), nullableTime(agent.CompletedAt), agent.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", store.ErrAgentNotFound, agent.ID)
	}
	return nil
}

// DeleteAgent removes an agent row; the message stream goes with it through
// the ON DELETE CASCADE constraint.
func (r *Repository) DeleteAgent(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM agents WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", store.ErrAgentNotFound, id)
	}
	return nil
}

// ListAgents returns all agents, newest first.
func (r *Repository) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, type, status, prompt, configuration, error, created_at, started_at, completed_at
		FROM agents ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row scanner) (*models.Agent, error) {
	agent := &models.Agent{}
	var configJSON string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&agent.ID, &agent.Type, &agent.Status, &agent.Prompt,
		&configJSON, &agent.Error, &agent.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		agent.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		agent.CompletedAt = &t
	}
	if configJSON != "" && configJSON != "{}" {
		if err := json.Unmarshal([]byte(configJSON), &agent.Configuration); err != nil {
			return nil, fmt.Errorf("failed to deserialize agent configuration: %w", err)
		}
	}
	return agent, nil
}

func marshalConfig(config map[string]interface{}) (string, error) {
	if config == nil {
		return "{}", nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
