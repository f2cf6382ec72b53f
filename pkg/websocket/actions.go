package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Agent actions (client -> server)
	ActionAgentLaunch    = "agent.launch"
	ActionAgentList      = "agent.list"
	ActionAgentGet       = "agent.get"
	ActionAgentDelete    = "agent.delete"
	ActionAgentTerminate = "agent.terminate"
	ActionAgentPause     = "agent.pause"
	ActionAgentResume    = "agent.resume"
	ActionAgentMessages  = "agent.messages"
	ActionAgentTypes     = "agent.types"

	// Launch queue actions
	ActionLaunchList   = "launch.list"
	ActionLaunchCancel = "launch.cancel"

	// Orchestrator actions
	ActionOrchestratorStatus = "orchestrator.status"

	// Subscription actions (client-scoped, handled by the gateway)
	ActionAgentSubscribe   = "agent.subscribe"
	ActionAgentUnsubscribe = "agent.unsubscribe"

	// Notification actions (server -> client)
	ActionAgentMessage = "agent.message"
	ActionAgentStatus  = "agent.status"
	ActionAgentCreated = "agent.created"
	ActionAgentDeleted = "agent.deleted"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeUnavailable   = "SERVICE_UNAVAILABLE"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
