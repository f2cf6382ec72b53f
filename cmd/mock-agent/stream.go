package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agentmux/agentmux/pkg/claudecode"
)

// sessionID is a unique identifier for this mock-agent process instance.
// Each launch spawns its own process, so using PID ensures uniqueness
// across parallel launches.
var sessionID = fmt.Sprintf("mock-session-%d", os.Getpid())

// run writes the whole simulated turn to w, one JSON frame per line.
func run(w io.Writer, opts *options) error {
	enc := json.NewEncoder(w)
	start := time.Now()

	if err := enc.Encode(claudecode.CLIMessage{
		Type:      claudecode.MessageTypeSystem,
		Subtype:   claudecode.SubtypeInit,
		SessionID: sessionID,
		Model:     opts.Model,
	}); err != nil {
		return err
	}

	text := responseText(opts.Prompt)
	for _, chunk := range splitChunks(text, opts.Chunks) {
		pause(opts.Delay)
		if err := enc.Encode(claudecode.CLIMessage{
			Type: claudecode.MessageTypeStreamEvent,
			Event: &claudecode.StreamEvent{
				Type:  claudecode.EventContentBlockDelta,
				Delta: &claudecode.Delta{Type: claudecode.DeltaText, Text: chunk},
			},
		}); err != nil {
			return err
		}
	}

	if opts.Fail {
		pause(opts.Delay)
		result, err := json.Marshal("mock agent failed on request")
		if err != nil {
			return err
		}
		return enc.Encode(claudecode.CLIMessage{
			Type:       claudecode.MessageTypeResult,
			Subtype:    claudecode.SubtypeError,
			IsError:    true,
			Result:     result,
			DurationMS: time.Since(start).Milliseconds(),
			NumTurns:   1,
		})
	}

	usage := &claudecode.Usage{
		InputTokens:  int64(len(opts.Prompt)),
		OutputTokens: int64(len(text)),
	}

	pause(opts.Delay)
	if err := enc.Encode(claudecode.CLIMessage{
		Type: claudecode.MessageTypeAssistant,
		Message: &claudecode.AssistantMessage{
			Role:       "assistant",
			Model:      opts.Model,
			Content:    []claudecode.ContentBlock{{Type: "text", Text: text}},
			StopReason: "end_turn",
			Usage:      usage,
		},
	}); err != nil {
		return err
	}

	pause(opts.Delay)
	result, err := json.Marshal(text)
	if err != nil {
		return err
	}
	return enc.Encode(claudecode.CLIMessage{
		Type:       claudecode.MessageTypeResult,
		Subtype:    claudecode.SubtypeSuccess,
		Result:     result,
		DurationMS: time.Since(start).Milliseconds(),
		NumTurns:   1,
		Usage:      usage,
	})
}

// responseText builds a deterministic reply so callers can assert on content.
func responseText(prompt string) string {
	if prompt == "" {
		return "Mock agent reporting in. No prompt was provided, so this is the canned default response."
	}
	return fmt.Sprintf("Mock response to %q. The request was inspected, a plan was made and the work is done.", prompt)
}

// splitChunks cuts text into at most n pieces on rune boundaries, keeping
// every piece non-empty.
func splitChunks(text string, n int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if n > len(runes) {
		n = len(runes)
	}
	if n < 1 {
		n = 1
	}

	size := (len(runes) + n - 1) / n
	chunks := make([]string, 0, n)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
