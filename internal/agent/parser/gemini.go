package parser

import (
	"bytes"
	"fmt"

	"github.com/agentmux/agentmux/internal/agent/models"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
	"github.com/agentmux/agentmux/pkg/gemini"
)

// GeminiParser normalizes Gemini CLI stream chunks. Gemini has no init
// frame; text-bearing chunks become content deltas and the finishReason
// chunk becomes the terminal system message.
type GeminiParser struct{}

// NewGeminiParser creates a parser for gemini stream lines.
func NewGeminiParser() *GeminiParser {
	return &GeminiParser{}
}

// Parse implements Parser.
func (p *GeminiParser) Parse(line []byte) (*models.AgentMessage, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	chunk, err := gemini.Decode(trimmed)
	if err != nil {
		return nil, &ParseError{Line: append([]byte(nil), trimmed...), Err: err}
	}

	if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
		msg := &models.AgentMessage{
			Type:    v1.AgentMessageTypeSystem,
			Content: fmt.Sprintf("prompt blocked: %s", chunk.PromptFeedback.BlockReason),
		}
		msg.SetMeta(MetaSubtype, SubtypeError)
		msg.SetMeta("block_reason", chunk.PromptFeedback.BlockReason)
		return msg, nil
	}

	if reason := chunk.FinishReason(); reason != "" {
		subtype := SubtypeSuccess
		if reason != gemini.FinishStop {
			subtype = SubtypeError
		}
		msg := &models.AgentMessage{
			Type:    v1.AgentMessageTypeSystem,
			Content: chunk.Text(),
		}
		msg.SetMeta(MetaSubtype, subtype)
		msg.SetMeta("finish_reason", reason)
		if chunk.UsageMetadata != nil {
			msg.SetMeta(MetaUsage, chunk.UsageMetadata.ToMap())
		}
		return msg, nil
	}

	if text := chunk.Text(); text != "" {
		msg := &models.AgentMessage{
			Type:    v1.AgentMessageTypeAssistant,
			Role:    "assistant",
			Content: text,
		}
		msg.SetMeta(MetaEventType, EventContentDelta)
		if chunk.ModelVersion != "" {
			msg.SetMeta("model", chunk.ModelVersion)
		}
		return msg, nil
	}

	return nil, nil
}
