package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/agent/dto"
)

func (h *AgentHandlers) httpCreateAgent(c *gin.Context) {
	var req dto.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.AgentType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_type is required"})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	agent, err := h.controller.LaunchAgent(c.Request.Context(), req)
	if err != nil {
		respondLaunchError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (h *AgentHandlers) httpListAgents(c *gin.Context) {
	resp, err := h.controller.ListAgents(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AgentHandlers) httpGetAgent(c *gin.Context) {
	agent, err := h.controller.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) httpDeleteAgent(c *gin.Context) {
	if err := h.controller.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *AgentHandlers) httpTerminateAgent(c *gin.Context) {
	var req dto.TerminateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Allow empty body, use defaults
		req = dto.TerminateAgentRequest{}
	}

	agent, err := h.controller.TerminateAgent(c.Request.Context(), c.Param("id"), req.Force)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) httpPauseAgent(c *gin.Context) {
	agent, err := h.controller.PauseAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) httpResumeAgent(c *gin.Context) {
	agent, err := h.controller.ResumeAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) httpListMessages(c *gin.Context) {
	var sinceSeq *int64
	if raw := c.Query("since_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since_seq must be an integer"})
			return
		}
		sinceSeq = &parsed
	}

	resp, err := h.controller.ListMessages(c.Request.Context(), c.Param("id"), sinceSeq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AgentHandlers) httpListLaunches(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.ListLaunches())
}

func (h *AgentHandlers) httpCancelLaunch(c *gin.Context) {
	if err := h.controller.CancelLaunch(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *AgentHandlers) httpListRunnerTypes(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.ListRunnerTypes())
}

func (h *AgentHandlers) httpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}
