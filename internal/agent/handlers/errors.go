package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/registry"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/orchestrator"
	"github.com/agentmux/agentmux/internal/orchestrator/launchqueue"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

// statusForError maps domain sentinels to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, launchqueue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnknownRunner),
		errors.Is(err, registry.ErrRunnerDisabled):
		return http.StatusBadRequest
	case errors.Is(err, launchqueue.ErrQueueFull),
		errors.Is(err, launchqueue.ErrClosed),
		errors.Is(err, orchestrator.ErrServiceNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, launchqueue.ErrCancelled),
		errors.Is(err, launchqueue.ErrDuplicateRequest),
		errors.Is(err, launchqueue.ErrInProgress),
		errors.Is(err, orchestrator.ErrAgentTerminal),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the mapped status. Unclassified errors are logged and
// masked so internals never leak to clients.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "request failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondLaunchError is respondError with the launch-specific default: a
// launch that made it past validation but failed to start is an upstream
// runner failure, not a server bug.
func respondLaunchError(c *gin.Context, log *logger.Logger, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error("launch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// wsCodeForError maps domain sentinels to WebSocket error codes.
func wsCodeForError(err error) string {
	switch statusForError(err) {
	case http.StatusNotFound:
		return ws.ErrorCodeNotFound
	case http.StatusBadRequest:
		return ws.ErrorCodeValidation
	case http.StatusConflict:
		return ws.ErrorCodeConflict
	case http.StatusServiceUnavailable:
		return ws.ErrorCodeUnavailable
	default:
		return ws.ErrorCodeInternalError
	}
}
