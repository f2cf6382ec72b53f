package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/store"
	storesqlite "github.com/agentmux/agentmux/internal/agent/store/sqlite"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/db"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "agentmux.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := storesqlite.New(pool)
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewService(repo, log), repo
}

func newTestAgent(t *testing.T, st store.Store) *models.Agent {
	t.Helper()
	agent := models.NewAgent("synthetic", "prompt", nil)
	require.NoError(t, st.CreateAgent(context.Background(), agent))
	return agent
}

func TestServiceSaveMessageAssignsSequence(t *testing.T) {
	svc, st := newTestService(t)
	agent := newTestAgent(t, st)
	ctx := context.Background()

	first := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "one"}
	require.NoError(t, svc.SaveMessage(ctx, first))
	assert.Equal(t, int64(1), first.SequenceNumber)

	second := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "two"}
	require.NoError(t, svc.SaveMessage(ctx, second))
	assert.Equal(t, int64(2), second.SequenceNumber)
}

func TestServiceStructuredContentRoundTrip(t *testing.T) {
	svc, st := newTestService(t)
	agent := newTestAgent(t, st)
	ctx := context.Background()

	payload := map[string]interface{}{
		"tool":  "search",
		"input": map[string]interface{}{"query": "weather"},
	}
	msg := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeSystem, Content: payload}
	require.NoError(t, svc.SaveMessage(ctx, msg))

	// The saved message keeps the structured value and carries the marker.
	assert.Equal(t, payload, msg.Content)
	assert.Equal(t, "json", msg.Metadata["content_type"])

	messages, err := svc.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, payload, messages[0].Content)
	assert.Equal(t, "json", messages[0].Metadata["content_type"])
}

func TestServiceStringContentStaysPlain(t *testing.T) {
	svc, st := newTestService(t)
	agent := newTestAgent(t, st)
	ctx := context.Background()

	msg := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "plain text"}
	require.NoError(t, svc.SaveMessage(ctx, msg))

	messages, err := svc.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "plain text", messages[0].Content)
	_, marked := messages[0].Metadata["content_type"]
	assert.False(t, marked)
}

func TestServiceSaveMessageUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.SaveMessage(context.Background(), &models.AgentMessage{
		AgentID: "ghost",
		Type:    v1.AgentMessageTypeAssistant,
		Content: "dropped",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))
}

func TestServiceListMessagesUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListMessages(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))

	_, err = svc.ListMessagesSince(context.Background(), "ghost", 0)
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))
}

func TestServiceListMessagesSince(t *testing.T) {
	svc, st := newTestService(t)
	agent := newTestAgent(t, st)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.SaveMessage(ctx, &models.AgentMessage{
			AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "m",
		}))
	}

	tail, err := svc.ListMessagesSince(ctx, agent.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, int64(3), tail[0].SequenceNumber)
	assert.Equal(t, int64(5), tail[2].SequenceNumber)
}
