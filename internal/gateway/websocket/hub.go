// Package websocket provides the WebSocket gateway: one endpoint carrying
// RPC actions and realtime agent notifications.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/streaming"
	"github.com/agentmux/agentmux/internal/common/logger"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

// AgentStreams attaches websocket clients to live agent streams. Satisfied by
// the orchestrator service: subscribing to a terminal or unknown agent is a
// no-op and reports live=false.
type AgentStreams interface {
	Subscribe(ctx context.Context, agentID, observerID string, fn streaming.Observer) (bool, error)
	Unsubscribe(agentID, observerID string)
	UnsubscribeAll(observerID string)
}

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients attached to specific agent streams
	agentSubscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications
	broadcast chan *ws.Message

	// Message dispatcher
	dispatcher *ws.Dispatcher

	streams AgentStreams

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, streams AgentStreams, log *logger.Logger) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		agentSubscribers: make(map[string]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan *ws.Message, 256),
		dispatcher:       dispatcher,
		streams:          streams,
		logger:           log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	closing := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		closing = append(closing, client)
		delete(h.clients, client)
	}
	h.agentSubscribers = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, client := range closing {
		if h.streams != nil {
			h.streams.UnsubscribeAll(client.ID)
		}
		client.closeSend()
	}
}

// removeClient removes a client from the hub and detaches its stream
// observers.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	for agentID := range client.subscriptions {
		if clients, ok := h.agentSubscribers[agentID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.agentSubscribers, agentID)
			}
		}
	}
	h.mu.Unlock()

	if h.streams != nil {
		h.streams.UnsubscribeAll(client.ID)
	}
	client.closeSend()
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to all connected clients
func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.sendBytes(data)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// SubscribeToAgent attaches a client to an agent's live stream. The returned
// bool reports whether the agent was live; terminal and unknown agents attach
// nothing and the client reads history over REST instead.
func (h *Hub) SubscribeToAgent(ctx context.Context, client *Client, agentID string) (bool, error) {
	h.mu.RLock()
	_, registered := h.clients[client]
	h.mu.RUnlock()
	if !registered {
		return false, nil
	}

	// Subscribe looks the agent up in the store; the hub lock must not be
	// held across that.
	live, err := h.streams.Subscribe(ctx, agentID, client.ID, client.streamObserver())
	if err != nil || !live {
		return false, err
	}

	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		// Client disconnected while the observer was registering; the
		// unregister path may have run before the observer existed.
		h.mu.Unlock()
		h.streams.Unsubscribe(agentID, client.ID)
		return false, nil
	}
	if _, ok := h.agentSubscribers[agentID]; !ok {
		h.agentSubscribers[agentID] = make(map[*Client]bool)
	}
	h.agentSubscribers[agentID][client] = true
	client.subscriptions[agentID] = true
	h.mu.Unlock()

	h.logger.Debug("Client subscribed to agent",
		zap.String("client_id", client.ID),
		zap.String("agent_id", agentID))
	return true, nil
}

// UnsubscribeFromAgent detaches a client from an agent's live stream.
func (h *Hub) UnsubscribeFromAgent(client *Client, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.streams.Unsubscribe(agentID, client.ID)

	delete(client.subscriptions, agentID)
	if clients, ok := h.agentSubscribers[agentID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.agentSubscribers, agentID)
		}
	}
}

// DropAgentSubscriptions clears the subscriber bookkeeping for a deleted
// agent. The streaming service already dropped the observers.
func (h *Hub) DropAgentSubscriptions(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.agentSubscribers[agentID] {
		delete(client.subscriptions, agentID)
	}
	delete(h.agentSubscribers, agentID)
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients attached to an agent stream.
func (h *Hub) SubscriberCount(agentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agentSubscribers[agentID])
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
