// Package runner executes agent sessions and feeds their output through a
// parser into the streaming pipeline. Variants cover local CLI subprocesses,
// HTTP line streams, SSE sidecars and a scripted synthetic runner.
package runner

import (
	"context"

	"github.com/agentmux/agentmux/internal/agent/models"
)

// Status represents the runner lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Sink receives parsed stream messages. Implemented by the streaming service.
type Sink interface {
	OnMessage(ctx context.Context, msg *models.AgentMessage) error
}

// ExitFunc is invoked exactly once when a runner's stream terminates.
// sawResult reports whether the provider emitted a terminal result event
// before the stream ended.
type ExitFunc func(agentID string, sawResult bool, err error)

// Runner drives a single agent session from start to exit. Runners are
// one-shot: a stopped runner is not restarted, a new one is created.
type Runner interface {
	// Start begins the session. The context scopes startup only; the
	// session outlives the request that launched it.
	Start(ctx context.Context) error

	// Stop terminates the session, escalating after the grace period.
	// Safe to call more than once and from multiple goroutines; every
	// caller returns once the session is gone.
	Stop(ctx context.Context) error

	Status() Status

	// Done is closed when the underlying stream has terminated.
	Done() <-chan struct{}
}

// Pauser is implemented by runners that can suspend their session in place.
type Pauser interface {
	Pause() error
	Resume() error
}

// errorWrapper wraps an error so it can be stored in atomic.Value (which
// cannot store nil).
type errorWrapper struct {
	err error
}
