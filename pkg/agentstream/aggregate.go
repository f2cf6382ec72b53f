// Package agentstream provides consumer-side helpers for agent message
// streams: collapsing delta storms into display messages and reconciling a
// live event feed against the persisted sequence.
package agentstream

import (
	"fmt"
	"strings"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Metadata keys stamped on synthesized aggregate messages.
const (
	MetaAggregated = "aggregated"
	MetaTokenCount = "tokenCount"
	MetaStreaming  = "streaming"
)

// Metadata keys read from incoming messages. These mirror the wire contract
// the backend parser stamps on stream messages.
const (
	metaEventType     = "eventType"
	eventContentDelta = "content_delta"
)

// Aggregate collapses consecutive assistant content deltas into single
// display messages. Each run of deltas becomes one synthesized assistant
// message carrying the concatenated text, `aggregated=true`, `tokenCount`
// (number of deltas) and `streaming=false`. A complete assistant frame that
// repeats the aggregated text is dropped: providers emit both streaming
// deltas and a final full message, and the display wants only one. A run
// still open at the end of the input is emitted with `streaming=true`.
func Aggregate(messages []*v1.AgentMessage) []*v1.AgentMessage {
	out := make([]*v1.AgentMessage, 0, len(messages))
	var buffer []*v1.AgentMessage

	for _, msg := range messages {
		if isContentDelta(msg) {
			buffer = append(buffer, msg)
			continue
		}

		if len(buffer) > 0 {
			agg := synthesize(buffer, false)
			out = append(out, agg)
			buffer = nil
			if isDuplicateOfAggregate(msg, agg) {
				continue
			}
		}
		out = append(out, msg)
	}

	if len(buffer) > 0 {
		out = append(out, synthesize(buffer, true))
	}
	return out
}

// synthesize builds the display message for a run of deltas. Identity fields
// come from the first delta so re-rendering stays stable.
func synthesize(deltas []*v1.AgentMessage, streaming bool) *v1.AgentMessage {
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(contentString(d.Content))
	}
	first := deltas[0]
	return &v1.AgentMessage{
		ID:             first.ID,
		AgentID:        first.AgentID,
		SequenceNumber: first.SequenceNumber,
		Type:           v1.AgentMessageTypeAssistant,
		Role:           "assistant",
		Content:        sb.String(),
		Metadata: map[string]interface{}{
			MetaAggregated: true,
			MetaTokenCount: len(deltas),
			MetaStreaming:  streaming,
		},
		CreatedAt: first.CreatedAt,
	}
}

func isContentDelta(msg *v1.AgentMessage) bool {
	if msg == nil || msg.Type != v1.AgentMessageTypeAssistant {
		return false
	}
	et, ok := eventType(msg)
	return ok && et == eventContentDelta
}

// isDuplicateOfAggregate reports whether msg is the complete-message frame
// for text that already arrived as deltas.
func isDuplicateOfAggregate(msg, agg *v1.AgentMessage) bool {
	if msg == nil || msg.Type != v1.AgentMessageTypeAssistant {
		return false
	}
	if _, ok := eventType(msg); ok {
		return false
	}
	return strings.TrimSpace(contentString(msg.Content)) == strings.TrimSpace(contentString(agg.Content))
}

func eventType(msg *v1.AgentMessage) (string, bool) {
	if msg.Metadata == nil {
		return "", false
	}
	et, ok := msg.Metadata[metaEventType].(string)
	if !ok || et == "" {
		return "", false
	}
	return et, true
}

func contentString(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
