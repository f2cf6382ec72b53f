// Package events provides event types and utilities for the Agentmux event system.
package events

// Event types for agent lifecycle
const (
	AgentCreated = "agent.created"
	AgentStatus  = "agent.status" // Base subject for per-agent status change events
	AgentDeleted = "agent.deleted"
)

// Event types for agent stream messages
const (
	AgentMessage = "agent.message" // Base subject for per-agent stream message events
)

// Event types for the launch queue
const (
	LaunchEnqueued  = "launch.enqueued"
	LaunchStarted   = "launch.started"
	LaunchCancelled = "launch.cancelled"
)

// BuildAgentStatusSubject creates a status subject for a specific agent
func BuildAgentStatusSubject(agentID string) string {
	return AgentStatus + "." + agentID
}

// BuildAgentStatusWildcardSubject creates a wildcard subscription for all agent status events
func BuildAgentStatusWildcardSubject() string {
	return AgentStatus + ".*"
}

// BuildAgentMessageSubject creates a stream message subject for a specific agent
func BuildAgentMessageSubject(agentID string) string {
	return AgentMessage + "." + agentID
}

// BuildAgentMessageWildcardSubject creates a wildcard subscription for all agent stream messages
func BuildAgentMessageWildcardSubject() string {
	return AgentMessage + ".*"
}
