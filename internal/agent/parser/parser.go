// Package parser normalizes provider stream lines into agent messages.
//
// A parser consumes exactly one line and produces at most one message:
// (msg, nil) for displayable payloads, (nil, nil) for frames with nothing to
// show (keepalives, block boundaries, empty deltas), and (nil, *ParseError)
// for malformed input. Runners log parse errors and keep reading; a corrupt
// line never aborts a stream.
package parser

import (
	"fmt"

	"github.com/agentmux/agentmux/internal/agent/models"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Metadata keys attached to normalized messages. eventType is a client
// contract and stays camelCase.
const (
	MetaEventType = "eventType"
	MetaSubtype   = "subtype"
	MetaUsage     = "usage"
)

// Subtype values for system messages.
const (
	SubtypeInit    = "init"
	SubtypeSuccess = "success"
	SubtypeError   = "error"
)

// EventContentDelta marks partial assistant output.
const EventContentDelta = "content_delta"

// Parser turns one provider stream line into a normalized message.
type Parser interface {
	Parse(line []byte) (*models.AgentMessage, error)
}

// ParseError wraps malformed stream input.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse stream line: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// New returns the parser registered under the given catalog name.
func New(name string) (Parser, error) {
	switch name {
	case "claude":
		return NewClaudeParser(), nil
	case "gemini":
		return NewGeminiParser(), nil
	default:
		return nil, fmt.Errorf("unknown parser: %q", name)
	}
}

// IsTerminal reports whether a normalized message marks the end of the
// provider stream (a result or message_stop frame).
func IsTerminal(msg *models.AgentMessage) bool {
	if msg == nil || msg.Type != v1.AgentMessageTypeSystem {
		return false
	}
	subtype, _ := msg.Metadata[MetaSubtype].(string)
	return subtype == SubtypeSuccess || subtype == SubtypeError
}
