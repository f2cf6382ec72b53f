package v1

import "time"

// AgentStatus represents the lifecycle status of an agent.
type AgentStatus string

const (
	AgentStatusInitializing AgentStatus = "initializing"
	AgentStatusRunning      AgentStatus = "running"
	AgentStatusPaused       AgentStatus = "paused"
	AgentStatusCompleted    AgentStatus = "completed"
	AgentStatusFailed       AgentStatus = "failed"
	AgentStatusTerminated   AgentStatus = "terminated"
)

// IsTerminal reports whether the status is one the agent can never leave.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusTerminated:
		return true
	}
	return false
}

// Agent represents a single AI session with lifecycle and persistent identity.
type Agent struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Status        AgentStatus            `json:"status"`
	Prompt        string                 `json:"prompt"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// AgentMessageType is the normalized message type persisted per stream event.
type AgentMessageType string

const (
	AgentMessageTypeUser      AgentMessageType = "user"
	AgentMessageTypeAssistant AgentMessageType = "assistant"
	AgentMessageTypeSystem    AgentMessageType = "system"
	AgentMessageTypeError     AgentMessageType = "error"
)

// AgentMessage is one persisted stream event. SequenceNumber is strictly
// increasing per agent starting at 1. Content is a string unless the message
// carries metadata content_type=json, in which case it is the decoded value.
type AgentMessage struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agent_id"`
	SequenceNumber int64                  `json:"sequence_number"`
	Type           AgentMessageType       `json:"type"`
	Role           string                 `json:"role,omitempty"`
	Content        interface{}            `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// LaunchRequest describes a pending entry in the launch queue.
type LaunchRequest struct {
	ID            string                 `json:"id"`
	AgentType     string                 `json:"agent_type"`
	Prompt        string                 `json:"prompt"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AgentMessageEvent is the payload pushed to subscribers for each persisted
// message, in commit order.
type AgentMessageEvent struct {
	AgentID   string        `json:"agent_id"`
	Message   *AgentMessage `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// AgentCreatedEvent announces a newly registered agent.
type AgentCreatedEvent struct {
	Agent     *Agent    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStatusEvent announces a lifecycle transition.
type AgentStatusEvent struct {
	AgentID   string      `json:"agent_id"`
	Status    AgentStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// AgentDeletedEvent announces that an agent and its messages were removed.
type AgentDeletedEvent struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}
