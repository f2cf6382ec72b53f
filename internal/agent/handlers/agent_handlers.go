// Package handlers exposes the agent API over HTTP and WebSocket.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/controller"
	"github.com/agentmux/agentmux/internal/common/logger"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

// AgentHandlers binds the agent controller to HTTP routes and WebSocket
// dispatcher actions.
type AgentHandlers struct {
	controller *controller.Controller
	logger     *logger.Logger
}

// NewAgentHandlers creates a new handlers instance.
func NewAgentHandlers(ctrl *controller.Controller, log *logger.Logger) *AgentHandlers {
	return &AgentHandlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "agent-handlers")),
	}
}

// RegisterRoutes registers both HTTP and WS handlers.
func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, ctrl *controller.Controller, log *logger.Logger) {
	h := NewAgentHandlers(ctrl, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *AgentHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/agents", h.httpCreateAgent)
	api.GET("/agents", h.httpListAgents)
	api.GET("/agents/:id", h.httpGetAgent)
	api.DELETE("/agents/:id", h.httpDeleteAgent)
	api.POST("/agents/:id/terminate", h.httpTerminateAgent)
	api.POST("/agents/:id/pause", h.httpPauseAgent)
	api.POST("/agents/:id/resume", h.httpResumeAgent)
	api.GET("/agents/:id/messages", h.httpListMessages)
	api.GET("/launches", h.httpListLaunches)
	api.DELETE("/launches/:id", h.httpCancelLaunch)
	api.GET("/runner-types", h.httpListRunnerTypes)
	api.GET("/status", h.httpStatus)
}

func (h *AgentHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionAgentLaunch, h.wsLaunchAgent)
	dispatcher.RegisterFunc(ws.ActionAgentList, h.wsListAgents)
	dispatcher.RegisterFunc(ws.ActionAgentGet, h.wsGetAgent)
	dispatcher.RegisterFunc(ws.ActionAgentDelete, h.wsDeleteAgent)
	dispatcher.RegisterFunc(ws.ActionAgentTerminate, h.wsTerminateAgent)
	dispatcher.RegisterFunc(ws.ActionAgentPause, h.wsPauseAgent)
	dispatcher.RegisterFunc(ws.ActionAgentResume, h.wsResumeAgent)
	dispatcher.RegisterFunc(ws.ActionAgentMessages, h.wsListMessages)
	dispatcher.RegisterFunc(ws.ActionAgentTypes, h.wsListRunnerTypes)
	dispatcher.RegisterFunc(ws.ActionLaunchList, h.wsListLaunches)
	dispatcher.RegisterFunc(ws.ActionLaunchCancel, h.wsCancelLaunch)
	dispatcher.RegisterFunc(ws.ActionOrchestratorStatus, h.wsStatus)
}
