package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// captureSink records delivered messages for assertions.
type captureSink struct {
	mu   sync.Mutex
	msgs []*models.AgentMessage
}

func (s *captureSink) OnMessage(_ context.Context, msg *models.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSink) messages() []*models.AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AgentMessage(nil), s.msgs...)
}

type exitRecord struct {
	agentID   string
	sawResult bool
	err       error
}

func exitRecorder() (ExitFunc, <-chan exitRecord) {
	ch := make(chan exitRecord, 1)
	return func(agentID string, sawResult bool, err error) {
		ch <- exitRecord{agentID: agentID, sawResult: sawResult, err: err}
	}, ch
}

func waitExit(t *testing.T, ch <-chan exitRecord) exitRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for runner exit")
		return exitRecord{}
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}
