package parser

import (
	"bytes"

	"github.com/agentmux/agentmux/internal/agent/models"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
	"github.com/agentmux/agentmux/pkg/claudecode"
)

// ClaudeParser normalizes the claude stream-json protocol (CLI stdout and
// SDK bridge bodies share the same frames).
type ClaudeParser struct{}

// NewClaudeParser creates a parser for claude stream-json lines.
func NewClaudeParser() *ClaudeParser {
	return &ClaudeParser{}
}

// Parse implements Parser.
func (p *ClaudeParser) Parse(line []byte) (*models.AgentMessage, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	frame, err := claudecode.Decode(trimmed)
	if err != nil {
		return nil, &ParseError{Line: append([]byte(nil), trimmed...), Err: err}
	}

	switch frame.Type {
	case claudecode.MessageTypeSystem:
		return p.parseSystem(frame), nil
	case claudecode.MessageTypeStreamEvent:
		return p.parseStreamEvent(frame), nil
	case claudecode.MessageTypeAssistant:
		return p.parseAssistant(frame), nil
	case claudecode.MessageTypeUser:
		return p.parseUser(frame), nil
	case claudecode.MessageTypeResult:
		return p.parseResult(frame), nil
	default:
		// Keepalives and frames this version does not know about.
		return nil, nil
	}
}

func (p *ClaudeParser) parseSystem(frame *claudecode.CLIMessage) *models.AgentMessage {
	if frame.Subtype != claudecode.SubtypeInit {
		return nil
	}
	msg := &models.AgentMessage{Type: v1.AgentMessageTypeSystem, Content: ""}
	msg.SetMeta(MetaSubtype, SubtypeInit)
	if frame.SessionID != "" {
		msg.SetMeta("session_id", frame.SessionID)
	}
	if frame.Model != "" {
		msg.SetMeta("model", frame.Model)
	}
	return msg
}

func (p *ClaudeParser) parseStreamEvent(frame *claudecode.CLIMessage) *models.AgentMessage {
	event := frame.Event
	if event == nil {
		return nil
	}

	switch event.Type {
	case claudecode.EventContentBlockDelta:
		if event.Delta == nil || event.Delta.Type != claudecode.DeltaText || event.Delta.Text == "" {
			return nil
		}
		msg := &models.AgentMessage{
			Type:    v1.AgentMessageTypeAssistant,
			Role:    "assistant",
			Content: event.Delta.Text,
		}
		msg.SetMeta(MetaEventType, EventContentDelta)
		return msg

	case claudecode.EventMessageStop:
		// Stream closed without a result frame carrying details; the result
		// frame, when it follows, repeats the terminal subtype with usage.
		msg := &models.AgentMessage{Type: v1.AgentMessageTypeSystem, Content: ""}
		msg.SetMeta(MetaSubtype, SubtypeSuccess)
		return msg

	default:
		// message_start, content_block_start/stop, message_delta, ping.
		return nil
	}
}

func (p *ClaudeParser) parseAssistant(frame *claudecode.CLIMessage) *models.AgentMessage {
	if frame.Message == nil {
		return nil
	}
	text := frame.Message.TextContent()
	if text == "" {
		return nil
	}
	msg := &models.AgentMessage{
		Type:    v1.AgentMessageTypeAssistant,
		Role:    "assistant",
		Content: text,
	}
	if frame.Message.Model != "" {
		msg.SetMeta("model", frame.Message.Model)
	}
	if frame.Message.Usage != nil {
		msg.SetMeta(MetaUsage, frame.Message.Usage.ToMap())
	}
	return msg
}

func (p *ClaudeParser) parseUser(frame *claudecode.CLIMessage) *models.AgentMessage {
	if frame.Message == nil {
		return nil
	}
	text := frame.Message.TextContent()
	if text == "" {
		return nil
	}
	return &models.AgentMessage{
		Type:    v1.AgentMessageTypeUser,
		Role:    "user",
		Content: text,
	}
}

func (p *ClaudeParser) parseResult(frame *claudecode.CLIMessage) *models.AgentMessage {
	subtype := frame.Subtype
	switch subtype {
	case claudecode.SubtypeSuccess, claudecode.SubtypeError:
	default:
		if frame.IsError {
			subtype = SubtypeError
		} else {
			subtype = SubtypeSuccess
		}
	}

	msg := &models.AgentMessage{
		Type:    v1.AgentMessageTypeSystem,
		Content: frame.GetResultString(),
	}
	msg.SetMeta(MetaSubtype, subtype)
	if frame.Usage != nil {
		msg.SetMeta(MetaUsage, frame.Usage.ToMap())
	}
	if frame.DurationMS > 0 {
		msg.SetMeta("duration_ms", frame.DurationMS)
	}
	if frame.NumTurns > 0 {
		msg.SetMeta("num_turns", frame.NumTurns)
	}
	return msg
}
