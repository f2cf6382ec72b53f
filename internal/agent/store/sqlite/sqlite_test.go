package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/db"
	"github.com/agentmux/agentmux/internal/db/dialect"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func createTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "agentmux.db")
	pool, err := db.OpenSQLitePool(dbPath, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := New(pool)
	require.NoError(t, err)
	return repo, dbPath
}

func createTestAgent(t *testing.T, repo *Repository, agentType string) *models.Agent {
	t.Helper()
	agent := models.NewAgent(agentType, "test prompt", nil)
	require.NoError(t, repo.CreateAgent(context.Background(), agent))
	return agent
}

func TestRepository_AgentCRUD(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()

	agent := models.NewAgent("claude-cli", "build the thing", map[string]interface{}{
		"model": "opus",
		"depth": float64(3),
	})
	require.NoError(t, repo.CreateAgent(ctx, agent))

	got, err := repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, "claude-cli", got.Type)
	assert.Equal(t, v1.AgentStatusInitializing, got.Status)
	assert.Equal(t, "build the thing", got.Prompt)
	assert.Equal(t, agent.Configuration, got.Configuration)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, agent.MarkRunning())
	require.NoError(t, repo.UpdateAgent(ctx, agent))

	got, err = repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, agent.MarkFailed("runner exited: exit status 2"))
	require.NoError(t, repo.UpdateAgent(ctx, agent))

	got, err = repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusFailed, got.Status)
	assert.Equal(t, "runner exited: exit status 2", got.Error)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, repo.DeleteAgent(ctx, agent.ID))
	_, err = repo.GetAgent(ctx, agent.ID)
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))
}

func TestRepository_AgentNotFound(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetAgent(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))

	agent := models.NewAgent("claude-cli", "prompt", nil)
	agent.ID = "missing"
	assert.True(t, errors.Is(repo.UpdateAgent(ctx, agent), store.ErrAgentNotFound))
	assert.True(t, errors.Is(repo.DeleteAgent(ctx, "missing"), store.ErrAgentNotFound))
}

func TestRepository_ListAgentsNewestFirst(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		agent := models.NewAgent("synthetic", "prompt", nil)
		agent.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateAgent(ctx, agent))
		ids = append(ids, agent.ID)
	}

	agents, err := repo.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, ids[2], agents[0].ID)
	assert.Equal(t, ids[1], agents[1].ID)
	assert.Equal(t, ids[0], agents[2].ID)
}

func TestRepository_MessageSequenceAssignment(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")

	for i := 1; i <= 3; i++ {
		msg := &models.AgentMessage{
			AgentID: agent.ID,
			Type:    v1.AgentMessageTypeAssistant,
			Role:    "assistant",
			Content: "chunk",
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
		assert.Equal(t, int64(i), msg.SequenceNumber)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	messages, err := repo.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, int64(i+1), msg.SequenceNumber)
		assert.Equal(t, "chunk", msg.Content)
	}
}

func TestRepository_SequencesIndependentPerAgent(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	first := createTestAgent(t, repo, "synthetic")
	second := createTestAgent(t, repo, "synthetic")

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.CreateMessage(ctx, &models.AgentMessage{
			AgentID: first.ID, Type: v1.AgentMessageTypeAssistant, Content: "a",
		}))
	}
	msg := &models.AgentMessage{AgentID: second.ID, Type: v1.AgentMessageTypeAssistant, Content: "b"}
	require.NoError(t, repo.CreateMessage(ctx, msg))
	assert.Equal(t, int64(1), msg.SequenceNumber)
}

func TestRepository_MessageForeignKeyEnforced(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()

	err := repo.CreateMessage(ctx, &models.AgentMessage{
		AgentID: "no-such-agent",
		Type:    v1.AgentMessageTypeAssistant,
		Content: "orphan",
	})
	require.Error(t, err)
	assert.True(t, dialect.IsForeignKeyViolation(err))

	messages, err := repo.ListMessages(ctx, "no-such-agent")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRepository_ConcurrentMessageSaves(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			return repo.CreateMessage(ctx, &models.AgentMessage{
				AgentID: agent.ID,
				Type:    v1.AgentMessageTypeAssistant,
				Content: "concurrent",
			})
		})
	}
	require.NoError(t, g.Wait())

	messages, err := repo.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, messages, 10)
	for i, msg := range messages {
		assert.Equal(t, int64(i+1), msg.SequenceNumber)
	}
}

func TestRepository_CascadeDelete(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")
	keep := createTestAgent(t, repo, "synthetic")

	var deletedMsgID string
	for i := 0; i < 3; i++ {
		msg := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeSystem, Content: "x"}
		require.NoError(t, repo.CreateMessage(ctx, msg))
		deletedMsgID = msg.ID
	}
	keepMsg := &models.AgentMessage{AgentID: keep.ID, Type: v1.AgentMessageTypeSystem, Content: "y"}
	require.NoError(t, repo.CreateMessage(ctx, keepMsg))

	require.NoError(t, repo.DeleteAgent(ctx, agent.ID))

	messages, err := repo.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = repo.GetMessage(ctx, deletedMsgID)
	assert.True(t, errors.Is(err, store.ErrMessageNotFound))

	// Other agents' streams are untouched.
	survived, err := repo.ListMessages(ctx, keep.ID)
	require.NoError(t, err)
	require.Len(t, survived, 1)
	assert.Equal(t, keepMsg.ID, survived[0].ID)
}

func TestRepository_ListMessagesSince(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")

	for i := 1; i <= 7; i++ {
		require.NoError(t, repo.CreateMessage(ctx, &models.AgentMessage{
			AgentID: agent.ID,
			Type:    v1.AgentMessageTypeAssistant,
			Content: "m",
		}))
	}

	since, err := repo.ListMessagesSince(ctx, agent.ID, 3)
	require.NoError(t, err)
	require.Len(t, since, 4)
	for i, msg := range since {
		assert.Equal(t, int64(i+4), msg.SequenceNumber)
	}

	all, err := repo.ListMessagesSince(ctx, agent.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	none, err := repo.ListMessagesSince(ctx, agent.ID, 7)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_MetadataRoundTrip(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")

	msg := &models.AgentMessage{
		AgentID: agent.ID,
		Type:    v1.AgentMessageTypeAssistant,
		Role:    "assistant",
		Content: "hello",
		Metadata: map[string]interface{}{
			"eventType": "content_delta",
			"usage":     map[string]interface{}{"output_tokens": float64(12)},
		},
	}
	require.NoError(t, repo.CreateMessage(ctx, msg))

	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Metadata, got.Metadata)
	assert.Equal(t, "assistant", got.Role)
	assert.Equal(t, "hello", got.Content)
}

func TestRepository_StructuredContentRejected(t *testing.T) {
	repo, _ := createTestRepo(t)
	ctx := context.Background()
	agent := createTestAgent(t, repo, "synthetic")

	err := repo.CreateMessage(ctx, &models.AgentMessage{
		AgentID: agent.ID,
		Type:    v1.AgentMessageTypeSystem,
		Content: map[string]interface{}{"not": "encoded"},
	})
	require.Error(t, err)
}

func TestRepository_RestartDurability(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentmux.db")

	pool, err := db.OpenSQLitePool(dbPath, 0)
	require.NoError(t, err)
	repo, err := New(pool)
	require.NoError(t, err)

	ctx := context.Background()
	agent := models.NewAgent("synthetic", "durable", nil)
	require.NoError(t, repo.CreateAgent(ctx, agent))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateMessage(ctx, &models.AgentMessage{
			AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "persisted",
		}))
	}

	// Rollback-journal mode means commits land in the main file with no
	// -wal/-shm sidecars, including while connections are open.
	_, err = os.Stat(dbPath + "-wal")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dbPath + "-shm")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, pool.Close())

	_, err = os.Stat(dbPath + "-wal")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dbPath + "-shm")
	assert.True(t, os.IsNotExist(err))

	reopened, err := db.OpenSQLitePool(dbPath, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	repo2, err := New(reopened)
	require.NoError(t, err)

	messages, err := repo2.ListMessages(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// Sequence assignment continues where the previous run stopped.
	next := &models.AgentMessage{AgentID: agent.ID, Type: v1.AgentMessageTypeAssistant, Content: "after restart"}
	require.NoError(t, repo2.CreateMessage(ctx, next))
	assert.Equal(t, int64(4), next.SequenceNumber)
}
