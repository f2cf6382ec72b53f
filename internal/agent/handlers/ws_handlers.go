package handlers

import (
	"context"

	"github.com/agentmux/agentmux/internal/agent/dto"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

// wsError wraps a domain error in the envelope the dispatcher returns.
func wsError(msg *ws.Message, err error) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, wsCodeForError(err), err.Error(), nil)
}

func (h *AgentHandlers) wsLaunchAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.CreateAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentType == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_type is required", nil)
	}
	if req.Prompt == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "prompt is required", nil)
	}

	agent, err := h.controller.LaunchAgent(ctx, req)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, agent)
}

func (h *AgentHandlers) wsListAgents(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, err := h.controller.ListAgents(ctx)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

type wsAgentRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *AgentHandlers) wsGetAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	agent, err := h.controller.GetAgent(ctx, req.AgentID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, agent)
}

func (h *AgentHandlers) wsDeleteAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	if err := h.controller.DeleteAgent(ctx, req.AgentID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.SuccessResponse{Success: true})
}

type wsTerminateAgentRequest struct {
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force,omitempty"`
}

func (h *AgentHandlers) wsTerminateAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsTerminateAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	agent, err := h.controller.TerminateAgent(ctx, req.AgentID, req.Force)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, agent)
}

func (h *AgentHandlers) wsPauseAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	agent, err := h.controller.PauseAgent(ctx, req.AgentID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, agent)
}

func (h *AgentHandlers) wsResumeAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	agent, err := h.controller.ResumeAgent(ctx, req.AgentID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, agent)
}

type wsListMessagesRequest struct {
	AgentID  string `json:"agent_id"`
	SinceSeq *int64 `json:"since_seq,omitempty"`
}

func (h *AgentHandlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListMessagesRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}

	resp, err := h.controller.ListMessages(ctx, req.AgentID, req.SinceSeq)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *AgentHandlers) wsListRunnerTypes(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, h.controller.ListRunnerTypes())
}

func (h *AgentHandlers) wsListLaunches(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, h.controller.ListLaunches())
}

type wsCancelLaunchRequest struct {
	RequestID string `json:"request_id"`
}

func (h *AgentHandlers) wsCancelLaunch(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCancelLaunchRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
	}
	if req.RequestID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "request_id is required", nil)
	}

	if err := h.controller.CancelLaunch(ctx, req.RequestID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.SuccessResponse{Success: true})
}

func (h *AgentHandlers) wsStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, h.controller.Status())
}
