// Package streaming persists agent stream messages and fans them out to
// subscribed observers. Messages are saved before any observer sees them, so
// a delivered message always has its final sequence number and can be read
// back from the store.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
)

// Observer receives persisted messages for one agent, in commit order.
// A non-nil error is logged; it never affects other observers.
type Observer func(msg *models.AgentMessage) error

// MessageSaver persists a message and assigns its sequence number.
type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *models.AgentMessage) error
}

// Service routes runner output to the store and on to observers.
type Service struct {
	saver    MessageSaver
	eventBus bus.EventBus
	logger   *logger.Logger

	mu        sync.RWMutex
	observers map[string]map[string]Observer
}

// NewService creates a streaming service. The event bus may be nil, in which
// case only in-process observers are notified.
func NewService(saver MessageSaver, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		saver:     saver,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "streaming-service")),
		observers: make(map[string]map[string]Observer),
	}
}

// OnMessage persists msg and then dispatches it to the observers registered
// for its agent. Messages for agents that no longer exist are dropped.
func (s *Service) OnMessage(ctx context.Context, msg *models.AgentMessage) error {
	if msg == nil || msg.AgentID == "" {
		return fmt.Errorf("stream message missing agent id")
	}

	if err := s.saver.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			s.logger.Warn("dropping message for unknown agent",
				zap.String("agent_id", msg.AgentID),
				zap.String("message_type", string(msg.Type)))
			return nil
		}
		s.logger.Error("failed to persist stream message",
			zap.String("agent_id", msg.AgentID),
			zap.Error(err))
		return err
	}

	s.dispatch(msg)
	s.publishMessage(ctx, msg)
	return nil
}

// Subscribe registers fn as an observer for agentID. Subscribing again with
// the same observerID replaces the previous callback.
func (s *Service) Subscribe(agentID, observerID string, fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.observers[agentID]
	if !ok {
		set = make(map[string]Observer)
		s.observers[agentID] = set
	}
	set[observerID] = fn

	s.logger.Debug("observer subscribed",
		zap.String("agent_id", agentID),
		zap.String("observer_id", observerID))
}

// Unsubscribe removes one observer from one agent. Unknown pairs are a no-op.
func (s *Service) Unsubscribe(agentID, observerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.observers[agentID]
	if !ok {
		return
	}
	delete(set, observerID)
	if len(set) == 0 {
		delete(s.observers, agentID)
	}
}

// UnsubscribeAll removes an observer from every agent it is subscribed to.
// Used when a websocket client disconnects.
func (s *Service) UnsubscribeAll(observerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for agentID, set := range s.observers {
		delete(set, observerID)
		if len(set) == 0 {
			delete(s.observers, agentID)
		}
	}
}

// UnsubscribeAgent drops every observer for agentID, typically after the
// agent is deleted.
func (s *Service) UnsubscribeAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, agentID)
}

// ObserverCount reports the number of observers registered for agentID.
func (s *Service) ObserverCount(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers[agentID])
}

// dispatch delivers msg to a snapshot of the agent's observers. Callbacks run
// outside the lock so an observer may subscribe or unsubscribe from within
// its own callback.
func (s *Service) dispatch(msg *models.AgentMessage) {
	s.mu.RLock()
	set := s.observers[msg.AgentID]
	ids := make([]string, 0, len(set))
	fns := make([]Observer, 0, len(set))
	for id, fn := range set {
		ids = append(ids, id)
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for i, fn := range fns {
		s.notify(ids[i], fn, msg)
	}
}

// notify invokes one observer, containing errors and panics.
func (s *Service) notify(observerID string, fn Observer, msg *models.AgentMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				zap.String("agent_id", msg.AgentID),
				zap.String("observer_id", observerID),
				zap.Any("panic", r))
		}
	}()

	if err := fn(msg); err != nil {
		s.logger.Warn("observer rejected message",
			zap.String("agent_id", msg.AgentID),
			zap.String("observer_id", observerID),
			zap.Error(err))
	}
}

// publishMessage mirrors the persisted message onto the event bus.
func (s *Service) publishMessage(ctx context.Context, msg *models.AgentMessage) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"agent_id":  msg.AgentID,
		"message":   msg.ToAPI(),
		"timestamp": msg.CreatedAt,
	}
	event := bus.NewEvent(events.AgentMessage, "streaming-service", data)
	subject := events.BuildAgentMessageSubject(msg.AgentID)

	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("failed to publish stream message event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	s.logger.Debug("published stream message",
		zap.String("subject", subject),
		zap.Int64("sequence_number", msg.SequenceNumber))
}
