package streaming

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/agent/models"
	agentservice "github.com/agentmux/agentmux/internal/agent/service"
	"github.com/agentmux/agentmux/internal/agent/store"
	storesqlite "github.com/agentmux/agentmux/internal/agent/store/sqlite"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/db"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestStack(t *testing.T) (*Service, *agentservice.Service, store.Store, *bus.MemoryEventBus) {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "agentmux.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := storesqlite.New(pool)
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	svc := agentservice.NewService(repo, log)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(func() { eventBus.Close() })

	return NewService(svc, eventBus, log), svc, repo, eventBus
}

func newRunningAgent(t *testing.T, st store.Store) *models.Agent {
	t.Helper()
	agent := models.NewAgent("synthetic", "prompt", nil)
	require.NoError(t, st.CreateAgent(context.Background(), agent))
	return agent
}

func assistantMessage(agentID, content string) *models.AgentMessage {
	return &models.AgentMessage{
		AgentID: agentID,
		Type:    v1.AgentMessageTypeAssistant,
		Role:    "assistant",
		Content: content,
	}
}

func TestService_OnMessagePersistsBeforeDispatch(t *testing.T) {
	streamSvc, svc, st, _ := newTestStack(t)
	agent := newRunningAgent(t, st)
	ctx := context.Background()

	var seen []int64
	streamSvc.Subscribe(agent.ID, "obs", func(msg *models.AgentMessage) error {
		// The message must already be readable from the store with its
		// final sequence number when the observer runs.
		stored, err := svc.ListMessagesSince(ctx, agent.ID, msg.SequenceNumber-1)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, msg.ID, stored[0].ID)
		assert.Equal(t, msg.Content, stored[0].Content)
		seen = append(seen, msg.SequenceNumber)
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, fmt.Sprintf("chunk %d", i))))
	}

	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestService_ObserverFailuresAreIsolated(t *testing.T) {
	streamSvc, _, st, _ := newTestStack(t)
	agent := newRunningAgent(t, st)
	ctx := context.Background()

	var delivered int
	streamSvc.Subscribe(agent.ID, "faulty", func(msg *models.AgentMessage) error {
		return fmt.Errorf("slow consumer")
	})
	streamSvc.Subscribe(agent.ID, "panicky", func(msg *models.AgentMessage) error {
		panic("boom")
	})
	streamSvc.Subscribe(agent.ID, "healthy", func(msg *models.AgentMessage) error {
		delivered++
		return nil
	})

	require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, "hello")))
	require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, "world")))

	assert.Equal(t, 2, delivered)
}

func TestService_UnknownAgentMessageDropped(t *testing.T) {
	streamSvc, svc, _, _ := newTestStack(t)
	ctx := context.Background()

	var delivered int
	streamSvc.Subscribe("ghost", "obs", func(msg *models.AgentMessage) error {
		delivered++
		return nil
	})

	err := streamSvc.OnMessage(ctx, assistantMessage("ghost", "into the void"))
	require.NoError(t, err)
	assert.Zero(t, delivered)

	_, err = svc.ListMessages(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrAgentNotFound)
}

func TestService_Unsubscribe(t *testing.T) {
	streamSvc, _, st, _ := newTestStack(t)
	agent := newRunningAgent(t, st)
	ctx := context.Background()

	var delivered int
	streamSvc.Subscribe(agent.ID, "obs", func(msg *models.AgentMessage) error {
		delivered++
		return nil
	})

	require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, "first")))
	streamSvc.Unsubscribe(agent.ID, "obs")
	require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, "second")))

	assert.Equal(t, 1, delivered)
	assert.Zero(t, streamSvc.ObserverCount(agent.ID))
}

func TestService_UnsubscribeAllDropsEveryAgent(t *testing.T) {
	streamSvc, _, st, _ := newTestStack(t)
	first := newRunningAgent(t, st)
	second := newRunningAgent(t, st)

	noop := func(msg *models.AgentMessage) error { return nil }
	streamSvc.Subscribe(first.ID, "client-1", noop)
	streamSvc.Subscribe(second.ID, "client-1", noop)
	streamSvc.Subscribe(second.ID, "client-2", noop)

	streamSvc.UnsubscribeAll("client-1")

	assert.Zero(t, streamSvc.ObserverCount(first.ID))
	assert.Equal(t, 1, streamSvc.ObserverCount(second.ID))
}

func TestService_PublishesMessageEvents(t *testing.T) {
	streamSvc, _, st, eventBus := newTestStack(t)
	agent := newRunningAgent(t, st)
	ctx := context.Background()

	received := make(chan *bus.Event, 1)
	_, err := eventBus.Subscribe(events.BuildAgentMessageWildcardSubject(), func(_ context.Context, event *bus.Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, streamSvc.OnMessage(ctx, assistantMessage(agent.ID, "hello")))

	select {
	case event := <-received:
		assert.Equal(t, events.AgentMessage, event.Type)
		assert.Equal(t, agent.ID, event.Data["agent_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent.message event")
	}
}
