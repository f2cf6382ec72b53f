package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/parser"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func TestSSERunner_StreamsEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": keepalive\n\n")
		events := []string{
			`{"type":"system","subtype":"init","session_id":"sse-1","model":"test-model"}`,
			`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"via sse"}}}`,
			`{"type":"result","subtype":"success","result":"via sse"}`,
		}
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	sink := &captureSink{}
	onExit, exited := exitRecorder()
	cfg := SSEConfig{AgentID: "agent-sse", URL: server.URL, Prompt: "p"}
	r := NewSSERunner(cfg, newClaudeParser(t), sink, onExit, newTestLogger(t))

	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.True(t, rec.sawResult)
	assert.NoError(t, rec.err)

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, v1.AgentMessageTypeAssistant, msgs[1].Type)
	assert.Equal(t, "via sse", msgs[1].Content)
	assert.Equal(t, parser.SubtypeSuccess, msgs[2].Metadata[parser.MetaSubtype])
}

func TestSSERunner_StopCancelsStream(t *testing.T) {
	firstEvent := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"stream_event\",\"event\":{\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"first\"}}}\n\n")
		flusher.Flush()
		close(firstEvent)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &captureSink{}
	onExit, exited := exitRecorder()
	cfg := SSEConfig{AgentID: "agent-sse-stop", URL: server.URL, Prompt: "p"}
	r := NewSSERunner(cfg, newClaudeParser(t), sink, onExit, newTestLogger(t))

	require.NoError(t, r.Start(context.Background()))
	<-firstEvent

	require.NoError(t, r.Stop(context.Background()))

	rec := waitExit(t, exited)
	assert.False(t, rec.sawResult)
	assert.Error(t, rec.err)
	require.Len(t, sink.messages(), 1)
}

func TestSSERunner_SidecarRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sidecar down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	onExit, exited := exitRecorder()
	cfg := SSEConfig{AgentID: "agent-sse-503", URL: server.URL, Prompt: "p"}
	r := NewSSERunner(cfg, newClaudeParser(t), &captureSink{}, onExit, newTestLogger(t))
	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	require.Error(t, rec.err)
	assert.Contains(t, rec.err.Error(), "rejected")
}

func TestSSEScanner_Framing(t *testing.T) {
	input := ": comment\n" +
		"event: message\n" +
		"data: first\n" +
		"\n" +
		"data: part1\n" +
		"data: part2\n" +
		"\n" +
		"data: tail"

	s := newSSEScanner(strings.NewReader(input))

	require.True(t, s.Scan())
	assert.Equal(t, "first", s.Data())

	require.True(t, s.Scan())
	assert.Equal(t, "part1\npart2", s.Data())

	// The final event has no trailing blank line and is flushed at EOF.
	require.True(t, s.Scan())
	assert.Equal(t, "tail", s.Data())

	require.False(t, s.Scan())
	require.NoError(t, s.Err())
}

func TestSSEScanner_DataWithoutSpace(t *testing.T) {
	s := newSSEScanner(strings.NewReader("data:{\"a\":1}\n\n"))
	require.True(t, s.Scan())
	assert.Equal(t, `{"a":1}`, s.Data())
}
