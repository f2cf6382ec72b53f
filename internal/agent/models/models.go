package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// ErrInvalidTransition is matched by errors.Is for any rejected status change.
var ErrInvalidTransition = errors.New("invalid agent status transition")

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	From v1.AgentStatus
	To   v1.AgentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid agent status transition from %q to %q", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) work for TransitionError values.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Agent represents a supervised AI session in the database.
type Agent struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Status        v1.AgentStatus         `json:"status"`
	Prompt        string                 `json:"prompt"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// NewAgent creates an agent in the initializing state with a fresh ID.
func NewAgent(agentType, prompt string, configuration map[string]interface{}) *Agent {
	return &Agent{
		ID:            uuid.New().String(),
		Type:          agentType,
		Status:        v1.AgentStatusInitializing,
		Prompt:        prompt,
		Configuration: configuration,
		CreatedAt:     time.Now().UTC(),
	}
}

// MarkRunning transitions the agent to running. StartedAt is recorded the
// first time the agent enters running and preserved across pause/resume.
func (a *Agent) MarkRunning() error {
	switch a.Status {
	case v1.AgentStatusInitializing, v1.AgentStatusPaused:
	default:
		return &TransitionError{From: a.Status, To: v1.AgentStatusRunning}
	}
	a.Status = v1.AgentStatusRunning
	if a.StartedAt == nil {
		now := time.Now().UTC()
		a.StartedAt = &now
	}
	return nil
}

// MarkPaused transitions a running agent to paused.
func (a *Agent) MarkPaused() error {
	if a.Status != v1.AgentStatusRunning {
		return &TransitionError{From: a.Status, To: v1.AgentStatusPaused}
	}
	a.Status = v1.AgentStatusPaused
	return nil
}

// MarkCompleted transitions the agent to completed after its runner finished
// with a result.
func (a *Agent) MarkCompleted() error {
	switch a.Status {
	case v1.AgentStatusRunning, v1.AgentStatusPaused:
	default:
		return &TransitionError{From: a.Status, To: v1.AgentStatusCompleted}
	}
	a.Status = v1.AgentStatusCompleted
	a.stamp()
	return nil
}

// MarkFailed transitions any non-terminal agent to failed and records the
// failure reason. Launch failures arrive here straight from initializing.
func (a *Agent) MarkFailed(reason string) error {
	if a.Status.IsTerminal() {
		return &TransitionError{From: a.Status, To: v1.AgentStatusFailed}
	}
	a.Status = v1.AgentStatusFailed
	a.Error = reason
	a.stamp()
	return nil
}

// MarkTerminated transitions any non-terminal agent to terminated.
func (a *Agent) MarkTerminated() error {
	if a.Status.IsTerminal() {
		return &TransitionError{From: a.Status, To: v1.AgentStatusTerminated}
	}
	a.Status = v1.AgentStatusTerminated
	a.stamp()
	return nil
}

func (a *Agent) stamp() {
	now := time.Now().UTC()
	a.CompletedAt = &now
}

// ToAPI converts internal Agent to API type
func (a *Agent) ToAPI() *v1.Agent {
	return &v1.Agent{
		ID:            a.ID,
		Type:          a.Type,
		Status:        a.Status,
		Prompt:        a.Prompt,
		Configuration: a.Configuration,
		CreatedAt:     a.CreatedAt,
		StartedAt:     a.StartedAt,
		CompletedAt:   a.CompletedAt,
		Error:         a.Error,
	}
}

// AgentMessage represents one normalized stream event from an agent.
// SequenceNumber is assigned by the store at insert time and is strictly
// increasing per agent starting at 1.
type AgentMessage struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agent_id"`
	SequenceNumber int64                  `json:"sequence_number"`
	Type           v1.AgentMessageType    `json:"type"`
	Role           string                 `json:"role,omitempty"`
	Content        interface{}            `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SetMeta sets a metadata key, allocating the map when needed.
func (m *AgentMessage) SetMeta(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

// ToAPI converts internal AgentMessage to API type
func (m *AgentMessage) ToAPI() *v1.AgentMessage {
	return &v1.AgentMessage{
		ID:             m.ID,
		AgentID:        m.AgentID,
		SequenceNumber: m.SequenceNumber,
		Type:           m.Type,
		Role:           m.Role,
		Content:        m.Content,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

// LaunchRequest represents a pending launch waiting in the queue.
// Instructions, when present, are written to the shared instruction file in
// the runner workdir before spawn; launches are serialized partly because
// that file is shared.
type LaunchRequest struct {
	ID            string                 `json:"id"`
	AgentType     string                 `json:"agent_type"`
	Prompt        string                 `json:"prompt"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Instructions  string                 `json:"instructions,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewLaunchRequest creates a launch request with a fresh ID.
func NewLaunchRequest(agentType, prompt string, configuration map[string]interface{}) *LaunchRequest {
	return &LaunchRequest{
		ID:            uuid.New().String(),
		AgentType:     agentType,
		Prompt:        prompt,
		Configuration: configuration,
		CreatedAt:     time.Now().UTC(),
	}
}

// HasInstructions reports whether this launch carries instruction file content.
func (r *LaunchRequest) HasInstructions() bool {
	return r.Instructions != ""
}

// ToAPI converts internal LaunchRequest to API type
func (r *LaunchRequest) ToAPI() *v1.LaunchRequest {
	return &v1.LaunchRequest{
		ID:            r.ID,
		AgentType:     r.AgentType,
		Prompt:        r.Prompt,
		Configuration: r.Configuration,
		CreatedAt:     r.CreatedAt,
	}
}
