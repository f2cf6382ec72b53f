package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/parser"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func TestHTTPStreamRunner_StreamsFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		flusher := w.(http.Flusher)
		lines := []string{
			`{"type":"system","subtype":"init","session_id":"sdk-1","model":"test-model"}`,
			`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"streamed"}}}`,
			`{"type":"result","subtype":"success","result":"streamed"}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	sink := &captureSink{}
	onExit, exited := exitRecorder()
	cfg := HTTPStreamConfig{
		AgentID: "agent-http",
		BaseURL: server.URL,
		Prompt:  "do the thing",
	}
	r := NewHTTPStreamRunner(cfg, newClaudeParser(t), sink, onExit, newTestLogger(t))

	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.Equal(t, "agent-http", rec.agentID)
	assert.True(t, rec.sawResult)
	assert.NoError(t, rec.err)
	assert.Equal(t, StatusStopped, r.Status())

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, v1.AgentMessageTypeAssistant, msgs[1].Type)
	assert.Equal(t, "streamed", msgs[1].Content)
	assert.Equal(t, parser.SubtypeSuccess, msgs[2].Metadata[parser.MetaSubtype])
}

func TestHTTPStreamRunner_StopCancelsStream(t *testing.T) {
	firstFrame := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"first"}}}`)
		flusher.Flush()
		close(firstFrame)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &captureSink{}
	onExit, exited := exitRecorder()
	cfg := HTTPStreamConfig{AgentID: "agent-cancel", BaseURL: server.URL, Prompt: "p"}
	r := NewHTTPStreamRunner(cfg, newClaudeParser(t), sink, onExit, newTestLogger(t))

	require.NoError(t, r.Start(context.Background()))
	<-firstFrame

	require.NoError(t, r.Stop(context.Background()))

	rec := waitExit(t, exited)
	assert.False(t, rec.sawResult)
	assert.Error(t, rec.err)
	require.Len(t, sink.messages(), 1)
	assert.Equal(t, "first", sink.messages()[0].Content)
}

func TestHTTPStreamRunner_StartRequiresBaseURL(t *testing.T) {
	r := NewHTTPStreamRunner(HTTPStreamConfig{AgentID: "a"}, newClaudeParser(t), &captureSink{}, nil, newTestLogger(t))
	require.Error(t, r.Start(context.Background()))
}

func TestHTTPStreamRunner_UpstreamErrorReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bridge unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	onExit, exited := exitRecorder()
	cfg := HTTPStreamConfig{AgentID: "agent-502", BaseURL: server.URL, Prompt: "p"}
	r := NewHTTPStreamRunner(cfg, newClaudeParser(t), &captureSink{}, onExit, newTestLogger(t))
	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.False(t, rec.sawResult)
	require.Error(t, rec.err)
}
