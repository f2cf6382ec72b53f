// Package gemini provides types for the Gemini CLI stream output: one
// streamGenerateContent response chunk per line, camelCase keys as emitted
// by the Google API.
package gemini

import "encoding/json"

// Finish reasons reported on the closing chunk.
const (
	FinishStop       = "STOP"
	FinishMaxTokens  = "MAX_TOKENS"
	FinishSafety     = "SAFETY"
	FinishRecitation = "RECITATION"
)

// StreamChunk is one line of the CLI's streaming JSON output.
type StreamChunk struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

// Decode parses a single stream line into a StreamChunk.
func Decode(line []byte) (*StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Text concatenates the text parts of the first candidate.
func (c *StreamChunk) Text() string {
	if len(c.Candidates) == 0 {
		return ""
	}
	var out string
	for _, part := range c.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out
}

// FinishReason returns the first candidate's finish reason, empty while the
// stream is still producing.
func (c *StreamChunk) FinishReason() string {
	if len(c.Candidates) == 0 {
		return ""
	}
	return c.Candidates[0].FinishReason
}

// Candidate is a single generation branch; the CLI streams only index 0.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part carries one piece of candidate content.
type Part struct {
	Text string `json:"text,omitempty"`
}

// UsageMetadata is the token accounting attached to the final chunk.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// ToMap flattens usage for message metadata, normalized to the same keys
// the claude parser emits.
func (u *UsageMetadata) ToMap() map[string]interface{} {
	usage := map[string]interface{}{
		"input_tokens":  int64(u.PromptTokenCount),
		"output_tokens": int64(u.CandidatesTokenCount),
	}
	if u.TotalTokenCount > 0 {
		usage["total_tokens"] = int64(u.TotalTokenCount)
	}
	return usage
}

// PromptFeedback reports prompt-level blocking (the model produced nothing).
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}
