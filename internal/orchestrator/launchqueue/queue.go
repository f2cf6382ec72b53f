// Package launchqueue serializes agent launches. A bounded FIFO feeds a
// single worker goroutine, so at most one launch is in flight at any time
// and launches begin in enqueue order.
package launchqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/models"
	"github.com/agentmux/agentmux/internal/common/logger"
)

var (
	// ErrQueueFull is returned when the queue is at max capacity
	ErrQueueFull = errors.New("launch queue is full")
	// ErrDuplicateRequest is returned when a request ID is already queued
	ErrDuplicateRequest = errors.New("launch request already queued")
	// ErrClosed is returned when the queue has been closed
	ErrClosed = errors.New("launch queue is closed")
	// ErrNotFound is returned when a request ID is not in the queue
	ErrNotFound = errors.New("launch request not found")
	// ErrInProgress is returned when cancelling a request that is already launching
	ErrInProgress = errors.New("launch already in progress")
	// ErrCancelled resolves the waiter of a cancelled request
	ErrCancelled = errors.New("launch cancelled")
)

// LaunchFunc performs one launch. The worker calls it for one request at a
// time, in enqueue order.
type LaunchFunc func(ctx context.Context, req *models.LaunchRequest) (*models.Agent, error)

// Pending is the caller's handle to a queued launch.
type Pending struct {
	req      *models.LaunchRequest
	queuedAt time.Time

	done  chan struct{}
	agent *models.Agent
	err   error
}

// Request returns the queued launch request.
func (p *Pending) Request() *models.LaunchRequest {
	return p.req
}

// QueuedAt returns when the request entered the queue.
func (p *Pending) QueuedAt() time.Time {
	return p.queuedAt
}

// Wait blocks until the launch finishes, is cancelled, or ctx expires.
// An expired context abandons the waiter; the launch itself still runs.
func (p *Pending) Wait(ctx context.Context) (*models.Agent, error) {
	select {
	case <-p.done:
		return p.agent, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve completes the waiter. Each Pending is resolved exactly once:
// entries are either popped by the worker or removed by Cancel/Close under
// the queue lock, never both.
func (p *Pending) resolve(agent *models.Agent, err error) {
	p.agent = agent
	p.err = err
	close(p.done)
}

// Queue is the bounded FIFO launch queue.
type Queue struct {
	launch  LaunchFunc
	logger  *logger.Logger
	maxSize int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*Pending
	byID     map[string]*Pending
	inFlight *Pending
	closed   bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	doneCh    chan struct{}
}

// New creates a launch queue and starts its worker. maxSize of 0 means
// unbounded.
func New(maxSize int, launch LaunchFunc, log *logger.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		launch:    launch,
		logger:    log.WithFields(zap.String("component", "launch-queue")),
		maxSize:   maxSize,
		byID:      make(map[string]*Pending),
		ctx:       ctx,
		ctxCancel: cancel,
		doneCh:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Enqueue adds a request to the queue.
// Returns ErrQueueFull, ErrDuplicateRequest or ErrClosed.
func (q *Queue) Enqueue(req *models.LaunchRequest) (*Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if _, exists := q.byID[req.ID]; exists {
		return nil, ErrDuplicateRequest
	}
	if q.inFlight != nil && q.inFlight.req.ID == req.ID {
		return nil, ErrDuplicateRequest
	}
	if q.maxSize > 0 && len(q.pending) >= q.maxSize {
		return nil, ErrQueueFull
	}

	p := &Pending{
		req:      req,
		queuedAt: time.Now().UTC(),
		done:     make(chan struct{}),
	}
	q.pending = append(q.pending, p)
	q.byID[req.ID] = p
	q.cond.Signal()

	q.logger.Debug("launch request enqueued",
		zap.String("request_id", req.ID),
		zap.String("agent_type", req.AgentType),
		zap.Int("queue_length", len(q.pending)))
	return p, nil
}

// Cancel removes a pending request; its waiter resolves with ErrCancelled.
// A request whose launch already began returns ErrInProgress.
func (q *Queue) Cancel(requestID string) error {
	q.mu.Lock()
	if q.inFlight != nil && q.inFlight.req.ID == requestID {
		q.mu.Unlock()
		return ErrInProgress
	}
	p, exists := q.byID[requestID]
	if !exists {
		q.mu.Unlock()
		return ErrNotFound
	}
	delete(q.byID, requestID)
	for i, cand := range q.pending {
		if cand == p {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	p.resolve(nil, ErrCancelled)
	q.logger.Info("launch request cancelled", zap.String("request_id", requestID))
	return nil
}

// Len returns the number of pending requests (in-flight excluded).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// List returns the pending requests in launch order.
func (q *Queue) List() []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*Pending, len(q.pending))
	copy(result, q.pending)
	return result
}

// InFlight returns the request currently launching, or nil.
func (q *Queue) InFlight() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close stops the worker. Pending waiters resolve with ErrClosed; an
// in-flight launch finishes first. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.doneCh
		return
	}
	q.closed = true
	cancelled := q.pending
	q.pending = nil
	q.byID = make(map[string]*Pending)
	q.ctxCancel()
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, p := range cancelled {
		p.resolve(nil, ErrClosed)
	}
	<-q.doneCh
	q.logger.Info("launch queue closed")
}

// worker pops requests one at a time and runs the launch function.
func (q *Queue) worker() {
	defer close(q.doneCh)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		p := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		delete(q.byID, p.req.ID)
		q.inFlight = p
		q.mu.Unlock()

		q.logger.Info("launch started",
			zap.String("request_id", p.req.ID),
			zap.String("agent_type", p.req.AgentType))

		agent, err := q.runLaunch(p.req)
		p.resolve(agent, err)

		if err != nil {
			q.logger.Warn("launch failed",
				zap.String("request_id", p.req.ID),
				zap.Error(err))
		}

		q.mu.Lock()
		q.inFlight = nil
		q.mu.Unlock()
	}
}

// runLaunch invokes the launch function, converting a panic into an error so
// one bad launch cannot take down the worker.
func (q *Queue) runLaunch(req *models.LaunchRequest) (agent *models.Agent, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("launch panicked",
				zap.String("request_id", req.ID),
				zap.Any("panic", r))
			agent = nil
			err = fmt.Errorf("launch panicked: %v", r)
		}
	}()
	return q.launch(q.ctx, req)
}
