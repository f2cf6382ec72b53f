package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// instructionFileName is the shared instruction file CLI agents read from
// their working directory. Launches are serialized, so concurrent launches
// cannot clobber each other's instructions.
const instructionFileName = "CLAUDE.md"

// defaultStopGrace is how long a stopping process gets between SIGTERM and
// SIGKILL when no grace is configured.
const defaultStopGrace = 5 * time.Second

// SubprocessConfig describes one CLI agent invocation.
type SubprocessConfig struct {
	AgentID      string
	Command      string
	Args         []string
	Env          []string // appended to the inherited environment
	WorkDir      string
	Instructions string // written to the instruction file before spawn
	StopGrace    time.Duration
}

// SubprocessRunner runs a CLI agent as a child process and streams its
// stdout, one JSON frame per line, through a parser into the sink.
type SubprocessRunner struct {
	cfg      SubprocessConfig
	pipeline *pipeline
	logger   *logger.Logger
	onExit   ExitFunc

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	status  atomic.Value // Status
	exitErr atomic.Value // errorWrapper

	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSubprocessRunner creates a runner for a CLI agent.
func NewSubprocessRunner(cfg SubprocessConfig, p parser.Parser, sink Sink, onExit ExitFunc, log *logger.Logger) *SubprocessRunner {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	r := &SubprocessRunner{
		cfg:      cfg,
		pipeline: newPipeline(cfg.AgentID, p, sink, log),
		logger: log.WithFields(
			zap.String("component", "subprocess-runner"),
			zap.String("agent_id", cfg.AgentID)),
		onExit: onExit,
		doneCh: make(chan struct{}),
	}
	r.status.Store(StatusStopped)
	return r
}

// Status returns the current process status.
func (r *SubprocessRunner) Status() Status {
	return r.status.Load().(Status)
}

// Done is closed once the process has exited and its output is drained.
func (r *SubprocessRunner) Done() <-chan struct{} {
	return r.doneCh
}

// ExitError returns the process exit error, if any.
func (r *SubprocessRunner) ExitError() error {
	if v := r.exitErr.Load(); v != nil {
		if w, ok := v.(errorWrapper); ok {
			return w.err
		}
	}
	return nil
}

// Start spawns the agent process and begins streaming its output.
func (r *SubprocessRunner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return fmt.Errorf("runner already started")
	}
	if r.cfg.Command == "" {
		return fmt.Errorf("no agent command configured")
	}

	r.logger.Info("starting agent process",
		zap.String("command", r.cfg.Command),
		zap.Strings("args", r.cfg.Args),
		zap.String("workdir", r.cfg.WorkDir))

	r.status.Store(StatusStarting)

	if r.cfg.Instructions != "" {
		path := filepath.Join(r.cfg.WorkDir, instructionFileName)
		if err := os.WriteFile(path, []byte(r.cfg.Instructions), 0o644); err != nil {
			r.status.Store(StatusError)
			return fmt.Errorf("failed to write instruction file: %w", err)
		}
	}

	// NOTE: We intentionally don't use exec.CommandContext here because the
	// launch request context ends when the HTTP request does, and that must
	// not kill the agent process.
	r.cmd = exec.Command(r.cfg.Command, r.cfg.Args...)
	r.cmd.Dir = r.cfg.WorkDir
	r.cmd.Env = append(append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8"), r.cfg.Env...)

	var err error
	r.stdin, err = r.cmd.StdinPipe()
	if err != nil {
		r.status.Store(StatusError)
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	r.stdout, err = r.cmd.StdoutPipe()
	if err != nil {
		r.status.Store(StatusError)
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	r.stderr, err = r.cmd.StderrPipe()
	if err != nil {
		r.status.Store(StatusError)
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := r.cmd.Start(); err != nil {
		r.status.Store(StatusError)
		return fmt.Errorf("failed to start agent: %w", err)
	}

	r.started = true

	// Deliveries must survive the launch request context.
	streamCtx := context.WithoutCancel(ctx)

	r.wg.Add(2)
	go r.readStdout(streamCtx)
	go r.readStderr()
	go r.waitForExit()

	r.status.Store(StatusRunning)
	r.logger.Info("agent process started", zap.Int("pid", r.cmd.Process.Pid))

	return nil
}

// Stop terminates the process: SIGTERM, then SIGKILL once the grace period
// (or the caller's context) runs out. Every caller returns once the process
// has exited and its output is drained.
func (r *SubprocessRunner) Stop(ctx context.Context) error {
	r.startMu.Lock()
	started := r.started
	r.startMu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-r.doneCh:
		return nil
	default:
	}

	r.status.Store(StatusStopping)
	r.stopOnce.Do(func() {
		if r.stdin != nil {
			_ = r.stdin.Close()
		}
		if r.cmd.Process != nil {
			r.logger.Info("sending SIGTERM to agent process", zap.Int("pid", r.cmd.Process.Pid))
			if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				r.logger.Debug("SIGTERM delivery failed", zap.Error(err))
			}
		}
	})

	timer := time.NewTimer(r.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-r.doneCh:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if r.cmd.Process != nil {
		r.logger.Warn("force killing agent process", zap.Int("pid", r.cmd.Process.Pid))
		_ = r.cmd.Process.Kill()
	}
	<-r.doneCh
	return nil
}

// Pause suspends the agent process with SIGSTOP.
func (r *SubprocessRunner) Pause() error {
	if r.Status() != StatusRunning {
		return fmt.Errorf("agent process is not running")
	}
	if err := r.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to pause agent process: %w", err)
	}
	r.status.Store(StatusPaused)
	return nil
}

// Resume continues a paused agent process with SIGCONT.
func (r *SubprocessRunner) Resume() error {
	if r.Status() != StatusPaused {
		return fmt.Errorf("agent process is not paused")
	}
	if err := r.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume agent process: %w", err)
	}
	r.status.Store(StatusRunning)
	return nil
}

// readStdout splits stdout on newlines and feeds each line to the pipeline.
// The scanner buffers a trailing partial line and flushes it at EOF.
func (r *SubprocessRunner) readStdout(ctx context.Context) {
	defer r.wg.Done()

	scanner := bufio.NewScanner(r.stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxStreamLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.pipeline.handleLine(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("stdout reader closed", zap.Error(err))
	}
}

// readStderr logs agent diagnostics line by line.
func (r *SubprocessRunner) readStderr() {
	defer r.wg.Done()

	scanner := bufio.NewScanner(r.stderr)
	for scanner.Scan() {
		r.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("stderr reader closed", zap.Error(err))
	}
}

// waitForExit reaps the process after both readers have drained, then
// reports the exit through the exit callback.
func (r *SubprocessRunner) waitForExit() {
	r.wg.Wait()

	err := r.cmd.Wait()
	if err != nil {
		r.exitErr.Store(errorWrapper{err: err})
		r.logger.Info("agent process exited with error", zap.Error(err))
	} else {
		r.logger.Info("agent process exited")
	}

	r.status.Store(StatusStopped)
	close(r.doneCh)

	if r.onExit != nil {
		r.onExit(r.cfg.AgentID, r.pipeline.sawResult.Load(), err)
	}
}
