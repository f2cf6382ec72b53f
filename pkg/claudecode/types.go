// Package claudecode provides types and a streaming client for the Claude
// stream-json protocol: one JSON frame per line, emitted by the CLI over
// stdout or by the SDK HTTP bridge as the response body.
package claudecode

import "encoding/json"

// Frame types emitted on the stream
const (
	// MessageTypeSystem is the initial system message with session info
	MessageTypeSystem = "system"
	// MessageTypeAssistant contains a complete assistant turn
	MessageTypeAssistant = "assistant"
	// MessageTypeUser is a user message (prompt echo)
	MessageTypeUser = "user"
	// MessageTypeResult is the final result message
	MessageTypeResult = "result"
	// MessageTypeStreamEvent wraps a partial content event
	MessageTypeStreamEvent = "stream_event"
	// MessageTypePing is a keepalive frame
	MessageTypePing = "ping"
)

// System and result subtypes
const (
	// SubtypeInit marks the session bootstrap system message
	SubtypeInit = "init"
	// SubtypeSuccess marks a clean result
	SubtypeSuccess = "success"
	// SubtypeError marks a failed result
	SubtypeError = "error"
)

// Wrapped stream event types (inside a stream_event frame)
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// Delta payload types
const (
	DeltaText     = "text_delta"
	DeltaThinking = "thinking_delta"
)

// CLIMessage represents one line of the stream.
// The frame type determines which fields are populated.
type CLIMessage struct {
	// Type is the frame type (system, assistant, result, stream_event, ...)
	Type string `json:"type"`

	// Subtype refines system and result frames (init, success, error)
	Subtype string `json:"subtype,omitempty"`

	// For system frames
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// For assistant and user frames
	Message *AssistantMessage `json:"message,omitempty"`

	// For stream_event frames
	Event *StreamEvent `json:"event,omitempty"`

	// For result frames.
	// Result can be either a string (final text / error message) or an object.
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	CostUSD    float64         `json:"total_cost_usd,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// Decode parses a single stream line into a CLIMessage.
func Decode(line []byte) (*CLIMessage, error) {
	var msg CLIMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetResultString returns the Result field when it is a plain string.
func (m *CLIMessage) GetResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return ""
	}
	return s
}

// AssistantMessage contains a complete assistant turn.
type AssistantMessage struct {
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// TextContent concatenates the text blocks of the turn.
func (m *AssistantMessage) TextContent() string {
	var out string
	for _, block := range m.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ContentBlock represents a block of content in an assistant message.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// For tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// StreamEvent is a partial content update wrapped in a stream_event frame.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta *Delta `json:"delta,omitempty"`
}

// Delta carries the incremental payload of a content_block_delta event.
type Delta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Thinking   string `json:"thinking,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ToMap flattens usage for message metadata.
func (u *Usage) ToMap() map[string]interface{} {
	usage := map[string]interface{}{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
	}
	if u.CacheCreationInputTokens > 0 {
		usage["cache_creation_input_tokens"] = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens > 0 {
		usage["cache_read_input_tokens"] = u.CacheReadInputTokens
	}
	return usage
}
