package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

// AgentEventBroadcaster bridges agent lifecycle events from the event bus to
// every connected client. Stream messages are not bridged here: subscribed
// clients receive those through their streaming-service observer, which
// preserves commit order.
type AgentEventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

func RegisterAgentNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *AgentEventBroadcaster {
	b := &AgentEventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-agent-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.AgentCreated, ws.ActionAgentCreated)
	b.subscribe(eventBus, events.BuildAgentStatusWildcardSubject(), ws.ActionAgentStatus)
	b.subscribe(eventBus, events.AgentDeleted, ws.ActionAgentDeleted)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

func (b *AgentEventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *AgentEventBroadcaster) subscribe(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}

		if action == ws.ActionAgentDeleted {
			if agentID := extractAgentID(event.Data); agentID != "" {
				b.hub.DropAgentSubscriptions(agentID)
			}
		}

		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func extractAgentID(data any) string {
	if data == nil {
		return ""
	}
	if typed, ok := data.(interface{ GetAgentID() string }); ok {
		return typed.GetAgentID()
	}
	if m, ok := data.(map[string]any); ok {
		if agentID, ok := m["agent_id"].(string); ok {
			return agentID
		}
	}
	return ""
}
