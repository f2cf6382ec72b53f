package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/pkg/claudecode"
)

// HTTPStreamConfig describes an agent session served by an HTTP bridge that
// streams line-delimited JSON frames in the response body.
type HTTPStreamConfig struct {
	AgentID string
	BaseURL string
	Prompt  string
	Options map[string]interface{}
}

// HTTPStreamRunner drives a remote agent session over a streaming HTTP
// response. Stop cancels the request context, which aborts the transfer.
type HTTPStreamRunner struct {
	cfg      HTTPStreamConfig
	client   *claudecode.Client
	pipeline *pipeline
	logger   *logger.Logger
	onExit   ExitFunc

	status  atomic.Value // Status
	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewHTTPStreamRunner creates a runner for an HTTP streaming agent.
func NewHTTPStreamRunner(cfg HTTPStreamConfig, p parser.Parser, sink Sink, onExit ExitFunc, log *logger.Logger) *HTTPStreamRunner {
	r := &HTTPStreamRunner{
		cfg:      cfg,
		client:   claudecode.NewClient(cfg.BaseURL, log),
		pipeline: newPipeline(cfg.AgentID, p, sink, log),
		logger: log.WithFields(
			zap.String("component", "httpstream-runner"),
			zap.String("agent_id", cfg.AgentID)),
		onExit: onExit,
		doneCh: make(chan struct{}),
	}
	r.status.Store(StatusStopped)
	return r
}

// Status returns the current stream status.
func (r *HTTPStreamRunner) Status() Status {
	return r.status.Load().(Status)
}

// Done is closed once the stream has terminated.
func (r *HTTPStreamRunner) Done() <-chan struct{} {
	return r.doneCh
}

// Start opens the stream and begins consuming frames.
func (r *HTTPStreamRunner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return fmt.Errorf("runner already started")
	}
	if r.cfg.BaseURL == "" {
		return fmt.Errorf("no base URL configured")
	}

	// The session outlives the launch request; only Stop cancels it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true
	r.status.Store(StatusRunning)

	go r.run(streamCtx)

	r.logger.Info("http stream started", zap.String("base_url", r.cfg.BaseURL))
	return nil
}

// Stop cancels the in-flight request and waits for the stream to wind down.
func (r *HTTPStreamRunner) Stop(ctx context.Context) error {
	r.startMu.Lock()
	started := r.started
	r.startMu.Unlock()

	if !started {
		return nil
	}

	if r.Status() == StatusRunning {
		r.status.Store(StatusStopping)
	}
	r.cancel()

	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *HTTPStreamRunner) run(ctx context.Context) {
	defer close(r.doneCh)

	// Persisting already-received frames must not be aborted by Stop.
	deliverCtx := context.WithoutCancel(ctx)

	req := &claudecode.StreamRequest{
		Prompt:  r.cfg.Prompt,
		Options: r.cfg.Options,
	}
	err := r.client.Stream(ctx, req, func(line []byte) {
		r.pipeline.handleLine(deliverCtx, line)
	})

	r.status.Store(StatusStopped)
	if err != nil {
		r.logger.Info("http stream ended with error", zap.Error(err))
	} else {
		r.logger.Info("http stream ended")
	}

	if r.onExit != nil {
		r.onExit(r.cfg.AgentID, r.pipeline.sawResult.Load(), err)
	}
}
