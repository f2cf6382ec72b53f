package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/parser"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newClaudeParser(t *testing.T) parser.Parser {
	t.Helper()
	p, err := parser.New("claude")
	require.NoError(t, err)
	return p
}

func shellRunner(t *testing.T, sink Sink, onExit ExitFunc, script string, grace time.Duration) *SubprocessRunner {
	t.Helper()
	cfg := SubprocessConfig{
		AgentID:   "agent-1",
		Command:   "/bin/sh",
		Args:      []string{"-c", script},
		WorkDir:   t.TempDir(),
		StopGrace: grace,
	}
	return NewSubprocessRunner(cfg, newClaudeParser(t), sink, onExit, newTestLogger(t))
}

func TestSubprocessRunner_StreamsStdout(t *testing.T) {
	sink := &captureSink{}
	onExit, exited := exitRecorder()

	script := `printf '%s\n' ` +
		`'{"type":"system","subtype":"init","session_id":"s-1","model":"test-model"}' ` +
		`'{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}}' ` +
		`'{"type":"result","subtype":"success","result":"done"}'`
	r := shellRunner(t, sink, onExit, script, 0)

	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.Equal(t, "agent-1", rec.agentID)
	assert.True(t, rec.sawResult)
	assert.NoError(t, rec.err)
	assert.NoError(t, r.ExitError())
	assert.Equal(t, StatusStopped, r.Status())

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, v1.AgentMessageTypeSystem, msgs[0].Type)
	assert.Equal(t, parser.SubtypeInit, msgs[0].Metadata[parser.MetaSubtype])
	assert.Equal(t, v1.AgentMessageTypeAssistant, msgs[1].Type)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, v1.AgentMessageTypeSystem, msgs[2].Type)
	assert.Equal(t, parser.SubtypeSuccess, msgs[2].Metadata[parser.MetaSubtype])
}

func TestSubprocessRunner_FlushesTrailingPartialLine(t *testing.T) {
	sink := &captureSink{}
	onExit, exited := exitRecorder()

	// No trailing newline: the final frame must still be flushed at EOF.
	script := `printf '{"type":"result","subtype":"success","result":"tail"}'`
	r := shellRunner(t, sink, onExit, script, 0)

	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.True(t, rec.sawResult)

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tail", msgs[0].Content)
}

func TestSubprocessRunner_MalformedLinesSkipped(t *testing.T) {
	sink := &captureSink{}
	onExit, exited := exitRecorder()

	script := `printf '%s\n' 'this is not json' '{"type":"result","subtype":"success"}'`
	r := shellRunner(t, sink, onExit, script, 0)

	require.NoError(t, r.Start(context.Background()))

	rec := waitExit(t, exited)
	assert.True(t, rec.sawResult)
	assert.NoError(t, rec.err)
	require.Len(t, sink.messages(), 1)
}

func TestSubprocessRunner_WritesInstructionFile(t *testing.T) {
	workDir := t.TempDir()
	onExit, exited := exitRecorder()

	cfg := SubprocessConfig{
		AgentID:      "agent-instr",
		Command:      "/bin/sh",
		Args:         []string{"-c", "true"},
		WorkDir:      workDir,
		Instructions: "Answer in haiku.",
	}
	r := NewSubprocessRunner(cfg, newClaudeParser(t), &captureSink{}, onExit, newTestLogger(t))

	require.NoError(t, r.Start(context.Background()))

	content, err := os.ReadFile(filepath.Join(workDir, instructionFileName))
	require.NoError(t, err)
	assert.Equal(t, "Answer in haiku.", string(content))

	waitExit(t, exited)
}

func TestSubprocessRunner_StopGraceful(t *testing.T) {
	onExit, exited := exitRecorder()

	cfg := SubprocessConfig{
		AgentID:   "agent-term",
		Command:   "sleep",
		Args:      []string{"30"},
		WorkDir:   t.TempDir(),
		StopGrace: 5 * time.Second,
	}
	r := NewSubprocessRunner(cfg, newClaudeParser(t), &captureSink{}, onExit, newTestLogger(t))
	require.NoError(t, r.Start(context.Background()))

	start := time.Now()
	require.NoError(t, r.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second, "SIGTERM should stop the process before the grace expires")

	rec := waitExit(t, exited)
	assert.False(t, rec.sawResult)
	assert.Error(t, rec.err)
}

func TestSubprocessRunner_StopEscalatesToKill(t *testing.T) {
	onExit, exited := exitRecorder()

	// The shell ignores SIGTERM; only SIGKILL ends it. Children are kept
	// short-lived so the stdout pipe closes promptly after the kill.
	script := `trap '' TERM; i=0; while [ $i -lt 600 ]; do sleep 0.1; i=$((i+1)); done`
	sink := &captureSink{}
	r := shellRunner(t, sink, onExit, script, 300*time.Millisecond)
	require.NoError(t, r.Start(context.Background()))

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))

	rec := waitExit(t, exited)
	assert.False(t, rec.sawResult)
	assert.Error(t, rec.err)
	assert.Equal(t, StatusStopped, r.Status())
}

func TestSubprocessRunner_StopIdempotent(t *testing.T) {
	onExit, exited := exitRecorder()
	r := shellRunner(t, &captureSink{}, onExit, "true", 0)

	require.NoError(t, r.Start(context.Background()))
	waitExit(t, exited)

	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}

func TestSubprocessRunner_StopBeforeStart(t *testing.T) {
	r := shellRunner(t, &captureSink{}, nil, "true", 0)
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, StatusStopped, r.Status())
}

func TestSubprocessRunner_StartValidation(t *testing.T) {
	cfg := SubprocessConfig{AgentID: "agent-x", WorkDir: t.TempDir()}
	r := NewSubprocessRunner(cfg, newClaudeParser(t), &captureSink{}, nil, newTestLogger(t))
	require.Error(t, r.Start(context.Background()))

	onExit, exited := exitRecorder()
	r2 := shellRunner(t, &captureSink{}, onExit, "true", 0)
	require.NoError(t, r2.Start(context.Background()))
	require.Error(t, r2.Start(context.Background()))
	waitExit(t, exited)
}

func TestSubprocessRunner_PauseResume(t *testing.T) {
	onExit, exited := exitRecorder()
	cfg := SubprocessConfig{
		AgentID:   "agent-pause",
		Command:   "sleep",
		Args:      []string{"30"},
		WorkDir:   t.TempDir(),
		StopGrace: 2 * time.Second,
	}
	r := NewSubprocessRunner(cfg, newClaudeParser(t), &captureSink{}, onExit, newTestLogger(t))
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Pause())
	assert.Equal(t, StatusPaused, r.Status())
	require.Error(t, r.Pause())

	require.NoError(t, r.Resume())
	assert.Equal(t, StatusRunning, r.Status())
	require.Error(t, r.Resume())

	require.NoError(t, r.Stop(context.Background()))
	waitExit(t, exited)
}
