// Package orchestrator coordinates the lifecycle of AI agents: it owns the
// launch queue, tracks the runner attached to each live agent, persists every
// status transition, and publishes lifecycle events on the bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/agent/runner"
	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/agent/streaming"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/common/tracing"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/orchestrator/launchqueue"
)

var (
	// ErrServiceAlreadyRunning is returned when trying to start an already running service
	ErrServiceAlreadyRunning = errors.New("service is already running")
	// ErrServiceNotRunning is returned when trying to stop a non-running service
	ErrServiceNotRunning = errors.New("service is not running")
	// ErrRunnerExists is returned when a runner is already tracked for an agent
	ErrRunnerExists = errors.New("runner already registered for agent")
	// ErrAgentTerminal is returned for lifecycle operations on finished agents
	ErrAgentTerminal = errors.New("agent is already in a terminal state")
)

// agentStore is the slice of the store the orchestrator needs.
type agentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)
}

// streamRegistry is the observer surface of the streaming service.
type streamRegistry interface {
	Subscribe(agentID, observerID string, fn streaming.Observer)
	Unsubscribe(agentID, observerID string)
	UnsubscribeAgent(agentID string)
	UnsubscribeAll(observerID string)
}

// RunnerFactory builds the runner for a freshly created agent. onExit must be
// invoked exactly once, after the runner's stream has fully terminated.
type RunnerFactory interface {
	NewRunner(agent *models.Agent, req *models.LaunchRequest, onExit runner.ExitFunc) (runner.Runner, error)
}

// ServiceConfig holds orchestrator service configuration
type ServiceConfig struct {
	// QueueSize bounds the launch queue; 0 means unbounded.
	QueueSize int
	// StopGrace is how long a runner gets to exit cleanly before being killed.
	StopGrace time.Duration
}

// DefaultServiceConfig returns the default orchestrator configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		QueueSize: 64,
		StopGrace: 5 * time.Second,
	}
}

// Status contains orchestrator status information
type Status struct {
	Running        bool      `json:"running"`
	ActiveAgents   int       `json:"active_agents"`
	QueuedLaunches int       `json:"queued_launches"`
	TotalLaunched  int64     `json:"total_launched"`
	TotalFailed    int64     `json:"total_failed"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// Service supervises agents from launch to terminal state.
type Service struct {
	config   ServiceConfig
	store    agentStore
	streams  streamRegistry
	factory  RunnerFactory
	eventBus bus.EventBus
	logger   *logger.Logger
	tracer   trace.Tracer

	queue *launchqueue.Queue

	mu      sync.RWMutex
	runners map[string]runner.Runner
	// terminating marks agents whose runner is being stopped on purpose
	// (terminate, delete, shutdown) so the exit callback does not record
	// the stop as a failure.
	terminating map[string]bool
	running     bool
	draining    bool
	startedAt   time.Time

	totalLaunched atomic.Int64
	totalFailed   atomic.Int64
}

// NewService creates a new orchestrator service
func NewService(
	cfg ServiceConfig,
	st agentStore,
	streams streamRegistry,
	factory RunnerFactory,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultServiceConfig().StopGrace
	}
	s := &Service{
		config:      cfg,
		store:       st,
		streams:     streams,
		factory:     factory,
		eventBus:    eventBus,
		logger:      log.WithFields(zap.String("component", "orchestrator")),
		tracer:      tracing.Tracer("orchestrator"),
		runners:     make(map[string]runner.Runner),
		terminating: make(map[string]bool),
	}
	s.queue = launchqueue.New(cfg.QueueSize, s.launchDirect, log)
	return s
}

// Start begins orchestrator operation and reconciles agents left over from a
// previous process.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServiceAlreadyRunning
	}
	s.running = true
	s.draining = false
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting orchestrator service")
	s.reconcileAgentsOnStartup(ctx)
	s.logger.Info("orchestrator service started")
	return nil
}

// Stop drains the launch queue and stops every live runner in parallel.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServiceNotRunning
	}
	s.running = false
	s.draining = true
	active := make(map[string]runner.Runner, len(s.runners))
	for id, r := range s.runners {
		active[id] = r
		s.terminating[id] = true
	}
	s.mu.Unlock()

	s.logger.Info("stopping orchestrator service",
		zap.Int("active_agents", len(active)))

	s.queue.Close()

	g := new(errgroup.Group)
	for agentID, r := range active {
		agentID, r := agentID, r
		g.Go(func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), s.config.StopGrace+10*time.Second)
			defer cancel()
			if err := r.Stop(stopCtx); err != nil {
				s.logger.Warn("failed to stop runner during shutdown",
					zap.String("agent_id", agentID),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	s.logger.Info("orchestrator service stopped")
	return err
}

// IsRunning returns true if the service is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStatus returns the orchestrator status
func (s *Service) GetStatus() *Status {
	s.mu.RLock()
	running := s.running
	startedAt := s.startedAt
	activeAgents := len(s.runners)
	s.mu.RUnlock()

	var uptimeSeconds int64
	if running {
		uptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	return &Status{
		Running:        running,
		ActiveAgents:   activeAgents,
		QueuedLaunches: s.queue.Len(),
		TotalLaunched:  s.totalLaunched.Load(),
		TotalFailed:    s.totalFailed.Load(),
		UptimeSeconds:  uptimeSeconds,
		LastHeartbeat:  time.Now(),
	}
}

// Launch enqueues a launch request and blocks until the launch ran or the
// context expires. An expired context abandons the wait, not the launch.
func (s *Service) Launch(ctx context.Context, req *models.LaunchRequest) (*models.Agent, error) {
	if !s.IsRunning() {
		return nil, ErrServiceNotRunning
	}

	pending, err := s.queue.Enqueue(req)
	if err != nil {
		return nil, err
	}
	s.publishLaunchEvent(ctx, events.LaunchEnqueued, req.ID, map[string]interface{}{
		"request_id": req.ID,
		"agent_type": req.AgentType,
		"position":   s.queue.Len(),
	})

	return pending.Wait(ctx)
}

// CancelLaunch removes a queued launch. In-flight launches cannot be
// cancelled; the agent they create must be terminated instead.
func (s *Service) CancelLaunch(ctx context.Context, requestID string) error {
	if err := s.queue.Cancel(requestID); err != nil {
		return err
	}
	s.publishLaunchEvent(ctx, events.LaunchCancelled, requestID, map[string]interface{}{
		"request_id": requestID,
	})
	return nil
}

// QueueLength returns the number of launches waiting behind the in-flight one.
func (s *Service) QueueLength() int {
	return s.queue.Len()
}

// QueueSnapshot returns the pending launches in dispatch order.
func (s *Service) QueueSnapshot() []*launchqueue.Pending {
	return s.queue.List()
}

// InFlightLaunch returns the launch currently being executed, or nil.
func (s *Service) InFlightLaunch() *launchqueue.Pending {
	return s.queue.InFlight()
}

// launchDirect executes one launch. It is the queue's launch function and
// runs on the queue worker goroutine, one launch at a time.
func (s *Service) launchDirect(ctx context.Context, req *models.LaunchRequest) (*models.Agent, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.launch",
		trace.WithAttributes(
			attribute.String("launch.request_id", req.ID),
			attribute.String("launch.agent_type", req.AgentType),
		))
	defer span.End()

	s.publishLaunchEvent(ctx, events.LaunchStarted, req.ID, map[string]interface{}{
		"request_id": req.ID,
		"agent_type": req.AgentType,
	})

	agent := models.NewAgent(req.AgentType, req.Prompt, req.Configuration)
	span.SetAttributes(attribute.String("agent.id", agent.ID))

	if err := s.store.CreateAgent(ctx, agent); err != nil {
		span.RecordError(err)
		s.totalFailed.Add(1)
		return nil, fmt.Errorf("failed to persist agent: %w", err)
	}
	s.publishAgentCreated(ctx, agent)

	r, err := s.factory.NewRunner(agent, req, s.onRunnerExit)
	if err != nil {
		span.RecordError(err)
		return nil, s.failLaunch(ctx, agent, fmt.Errorf("failed to build runner: %w", err))
	}

	if err := s.RegisterRunner(agent.ID, r); err != nil {
		span.RecordError(err)
		return nil, s.failLaunch(ctx, agent, err)
	}

	if err := r.Start(ctx); err != nil {
		span.RecordError(err)
		s.untrackRunner(agent.ID)
		return nil, s.failLaunch(ctx, agent, fmt.Errorf("failed to start runner: %w", err))
	}

	if err := agent.MarkRunning(); err != nil {
		return nil, s.failLaunch(ctx, agent, err)
	}
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		span.RecordError(err)
		stopCtx, cancel := context.WithTimeout(context.Background(), s.config.StopGrace)
		if serr := r.Stop(stopCtx); serr != nil {
			s.logger.Warn("failed to stop runner after persist error",
				zap.String("agent_id", agent.ID),
				zap.Error(serr))
		}
		cancel()
		return nil, s.failLaunch(ctx, agent, fmt.Errorf("failed to persist running state: %w", err))
	}
	s.publishAgentStatus(ctx, agent)

	s.totalLaunched.Add(1)
	s.logger.Info("agent launched",
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", agent.Type),
		zap.String("request_id", req.ID))

	return agent, nil
}

// failLaunch records a launch failure on the agent and returns the cause so
// the waiting caller sees the original error.
func (s *Service) failLaunch(ctx context.Context, agent *models.Agent, cause error) error {
	s.totalFailed.Add(1)
	if err := agent.MarkFailed(cause.Error()); err != nil {
		s.logger.Warn("could not mark agent failed",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
		return cause
	}
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		s.logger.Error("failed to persist launch failure",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}
	s.publishAgentStatus(ctx, agent)
	return cause
}

// RegisterRunner tracks a live runner for an agent. Registering a second
// runner for the same agent is an error.
func (s *Service) RegisterRunner(agentID string, r runner.Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runners[agentID]; exists {
		return fmt.Errorf("%w: %s", ErrRunnerExists, agentID)
	}
	s.runners[agentID] = r
	return nil
}

// Runner returns the live runner for an agent, or nil.
func (s *Service) Runner(agentID string) runner.Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runners[agentID]
}

func (s *Service) untrackRunner(agentID string) {
	s.mu.Lock()
	delete(s.runners, agentID)
	delete(s.terminating, agentID)
	s.mu.Unlock()
}

// Terminate stops an agent's runner and records the terminated state. With
// force set the process is killed immediately instead of getting the grace
// period.
func (s *Service) Terminate(ctx context.Context, agentID string, force bool) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAgentTerminal, agentID, agent.Status)
	}

	s.mu.Lock()
	r := s.runners[agentID]
	if r != nil {
		s.terminating[agentID] = true
	}
	s.mu.Unlock()

	if r != nil {
		// Detach from the request context: a client disconnect must not
		// abort a termination already underway.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.StopGrace+10*time.Second)
		if force {
			cancel()
		} else {
			defer cancel()
		}
		if serr := r.Stop(stopCtx); serr != nil {
			s.logger.Warn("error stopping runner",
				zap.String("agent_id", agentID),
				zap.Error(serr))
		}
	}

	if err := agent.MarkTerminated(); err != nil {
		return err
	}
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to persist terminated state: %w", err)
	}
	s.publishAgentStatus(ctx, agent)
	s.untrackRunner(agentID)

	s.logger.Info("agent terminated",
		zap.String("agent_id", agentID),
		zap.Bool("force", force))
	return nil
}

// Pause suspends a running agent. Runners that support process-level
// suspension get signalled; others only change recorded state.
func (s *Service) Pause(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := agent.MarkPaused(); err != nil {
		return err
	}

	s.mu.RLock()
	r := s.runners[agentID]
	s.mu.RUnlock()
	if p, ok := r.(runner.Pauser); ok {
		if err := p.Pause(); err != nil {
			return fmt.Errorf("failed to pause agent process: %w", err)
		}
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to persist paused state: %w", err)
	}
	s.publishAgentStatus(ctx, agent)
	return nil
}

// Resume puts a paused agent back into running.
func (s *Service) Resume(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := agent.MarkRunning(); err != nil {
		return err
	}

	s.mu.RLock()
	r := s.runners[agentID]
	s.mu.RUnlock()
	if p, ok := r.(runner.Pauser); ok {
		if err := p.Resume(); err != nil {
			return fmt.Errorf("failed to resume agent process: %w", err)
		}
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to persist running state: %w", err)
	}
	s.publishAgentStatus(ctx, agent)
	return nil
}

// DeleteAgent stops any live runner, removes the agent and its messages, and
// publishes the deletion.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	r := s.runners[agentID]
	if r != nil {
		s.terminating[agentID] = true
	}
	s.mu.Unlock()

	if r != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.StopGrace+10*time.Second)
		if err := r.Stop(stopCtx); err != nil {
			s.logger.Warn("error stopping runner before delete",
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
		cancel()
		s.untrackRunner(agentID)
	}

	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	s.streams.UnsubscribeAgent(agentID)
	s.publishAgentDeleted(ctx, agentID)

	s.logger.Info("agent deleted", zap.String("agent_id", agentID))
	return nil
}

// Subscribe attaches an observer to an agent's live stream. It reports false
// for unknown or already finished agents, whose history is served over REST.
func (s *Service) Subscribe(ctx context.Context, agentID, observerID string, fn streaming.Observer) (bool, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			return false, nil
		}
		return false, err
	}
	if agent.Status.IsTerminal() {
		return false, nil
	}
	s.streams.Subscribe(agentID, observerID, fn)
	return true, nil
}

// Unsubscribe detaches one observer from an agent's live stream.
func (s *Service) Unsubscribe(agentID, observerID string) {
	s.streams.Unsubscribe(agentID, observerID)
}

// UnsubscribeAll detaches an observer from every agent stream, typically when
// a websocket client disconnects.
func (s *Service) UnsubscribeAll(observerID string) {
	s.streams.UnsubscribeAll(observerID)
}

// onRunnerExit records the outcome of a finished stream. The agent completes
// only when the stream carried a terminal result frame; anything else is a
// failure. Deliberate stops and exits of already finished agents just untrack.
func (s *Service) onRunnerExit(agentID string, sawResult bool, err error) {
	s.mu.Lock()
	deliberate := s.terminating[agentID] || s.draining
	delete(s.terminating, agentID)
	delete(s.runners, agentID)
	s.mu.Unlock()

	if deliberate {
		s.logger.Debug("runner exited after deliberate stop",
			zap.String("agent_id", agentID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, gerr := s.store.GetAgent(ctx, agentID)
	if gerr != nil {
		s.logger.Warn("runner exited for unknown agent",
			zap.String("agent_id", agentID),
			zap.Error(gerr))
		return
	}
	if agent.Status.IsTerminal() {
		return
	}

	if sawResult {
		if terr := agent.MarkCompleted(); terr != nil {
			s.logger.Warn("could not mark agent completed",
				zap.String("agent_id", agentID),
				zap.Error(terr))
			return
		}
	} else {
		s.totalFailed.Add(1)
		reason := "agent stream ended without a result"
		if err != nil {
			reason = err.Error()
		}
		if terr := agent.MarkFailed(reason); terr != nil {
			s.logger.Warn("could not mark agent failed",
				zap.String("agent_id", agentID),
				zap.Error(terr))
			return
		}
	}

	if uerr := s.store.UpdateAgent(ctx, agent); uerr != nil {
		s.logger.Error("failed to persist agent exit state",
			zap.String("agent_id", agentID),
			zap.Error(uerr))
		return
	}
	s.publishAgentStatus(ctx, agent)

	s.logger.Info("agent finished",
		zap.String("agent_id", agentID),
		zap.String("status", string(agent.Status)),
		zap.Bool("saw_result", sawResult),
		zap.Error(err))
}

// reconcileAgentsOnStartup fails agents left non-terminal by a previous
// process. Their runners died with that process; messages stay queryable.
func (s *Service) reconcileAgentsOnStartup(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.logger.Warn("failed to list agents for startup reconciliation", zap.Error(err))
		return
	}

	reconciled := 0
	for _, agent := range agents {
		if agent.Status.IsTerminal() {
			continue
		}
		if err := agent.MarkFailed("interrupted by service restart"); err != nil {
			s.logger.Warn("failed to reconcile agent",
				zap.String("agent_id", agent.ID),
				zap.String("status", string(agent.Status)),
				zap.Error(err))
			continue
		}
		if err := s.store.UpdateAgent(ctx, agent); err != nil {
			s.logger.Warn("failed to persist reconciled agent",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
			continue
		}
		s.publishAgentStatus(ctx, agent)
		reconciled++
	}

	if reconciled > 0 {
		s.logger.Info("reconciled stale agents from previous run",
			zap.Int("count", reconciled))
	}
}

func (s *Service) publishAgentCreated(ctx context.Context, agent *models.Agent) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.AgentCreated, "orchestrator", map[string]interface{}{
		"agent":     agent.ToAPI(),
		"timestamp": time.Now().UTC(),
	})
	if err := s.eventBus.Publish(ctx, events.AgentCreated, event); err != nil {
		s.logger.Warn("failed to publish agent created event",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}
}

func (s *Service) publishAgentStatus(ctx context.Context, agent *models.Agent) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"agent_id":  agent.ID,
		"status":    string(agent.Status),
		"timestamp": time.Now().UTC(),
	}
	if agent.Error != "" {
		data["error"] = agent.Error
	}
	event := bus.NewEvent(events.AgentStatus, "orchestrator", data)
	if err := s.eventBus.Publish(ctx, events.BuildAgentStatusSubject(agent.ID), event); err != nil {
		s.logger.Warn("failed to publish agent status event",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}
}

func (s *Service) publishAgentDeleted(ctx context.Context, agentID string) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.AgentDeleted, "orchestrator", map[string]interface{}{
		"agent_id":  agentID,
		"timestamp": time.Now().UTC(),
	})
	if err := s.eventBus.Publish(ctx, events.AgentDeleted, event); err != nil {
		s.logger.Warn("failed to publish agent deleted event",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}

func (s *Service) publishLaunchEvent(ctx context.Context, eventType, requestID string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "orchestrator", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish launch event",
			zap.String("event_type", eventType),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
