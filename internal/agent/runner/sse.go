package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// doneSentinel ends an SSE stream without a payload event.
const doneSentinel = "[DONE]"

// SSEConfig describes an agent session proxied through a sidecar that
// re-emits provider frames as Server-Sent Events.
type SSEConfig struct {
	AgentID string
	URL     string
	Prompt  string
	Options map[string]interface{}
}

// SSERunner drives a remote agent session over text/event-stream. Each
// complete event payload is one JSON frame for the parser.
type SSERunner struct {
	cfg      SSEConfig
	client   *http.Client
	pipeline *pipeline
	logger   *logger.Logger
	onExit   ExitFunc

	status  atomic.Value // Status
	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewSSERunner creates a runner for an SSE sidecar agent.
func NewSSERunner(cfg SSEConfig, p parser.Parser, sink Sink, onExit ExitFunc, log *logger.Logger) *SSERunner {
	r := &SSERunner{
		cfg: cfg,
		// Streaming responses stay open for the whole session.
		client:   &http.Client{Timeout: 0},
		pipeline: newPipeline(cfg.AgentID, p, sink, log),
		logger: log.WithFields(
			zap.String("component", "sse-runner"),
			zap.String("agent_id", cfg.AgentID)),
		onExit: onExit,
		doneCh: make(chan struct{}),
	}
	r.status.Store(StatusStopped)
	return r
}

// Status returns the current stream status.
func (r *SSERunner) Status() Status {
	return r.status.Load().(Status)
}

// Done is closed once the stream has terminated.
func (r *SSERunner) Done() <-chan struct{} {
	return r.doneCh
}

// Start opens the event stream and begins consuming events.
func (r *SSERunner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return fmt.Errorf("runner already started")
	}
	if r.cfg.URL == "" {
		return fmt.Errorf("no sidecar URL configured")
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true
	r.status.Store(StatusRunning)

	go r.run(streamCtx)

	r.logger.Info("sse stream started", zap.String("url", r.cfg.URL))
	return nil
}

// Stop cancels the in-flight request and waits for the stream to wind down.
func (r *SSERunner) Stop(ctx context.Context) error {
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

func (r *SSERunner) run(ctx context.Context) {
	defer close(r.doneCh)

	deliverCtx := context.WithoutCancel(ctx)
	err := r.stream(ctx, deliverCtx)

	r.status.Store(StatusStopped)
	if err != nil {
		r.logger.Info("sse stream ended with error", zap.Error(err))
	} else {
		r.logger.Info("sse stream ended")
	}

	if r.onExit != nil {
		r.onExit(r.cfg.AgentID, r.pipeline.sawResult.Load(), err)
	}
}

func (r *SSERunner) stream(ctx, deliverCtx context.Context) error {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt":  r.cfg.Prompt,
		"options": r.cfg.Options,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sidecar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create sidecar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar rejected stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	events := newSSEScanner(resp.Body)
	for events.Scan() {
		data := events.Data()
		if data == doneSentinel {
			return nil
		}
		r.pipeline.handleLine(deliverCtx, []byte(data))
	}

	if err := events.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sse stream error: %w", err)
	}
	return nil
}

// sseScanner reads text/event-stream framing: "data:" lines accumulate and a
// blank line dispatches the event. Comments and non-data fields are ignored.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxStreamLineBytes)
	return &sseScanner{scanner: scanner}
}

// Scan advances to the next complete event. A stream that ends mid-event
// still yields the accumulated data.
func (s *sseScanner) Scan() bool {
	var data strings.Builder
	dataSeen := false

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if dataSeen {
				s.data = data.String()
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			value = strings.TrimPrefix(value, " ")
			if dataSeen {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			dataSeen = true
		}
		// event:, id: and retry: fields are not used by the sidecar.
	}

	s.err = s.scanner.Err()
	if dataSeen {
		s.data = data.String()
		return true
	}
	return false
}

// Data returns the current event payload.
func (s *sseScanner) Data() string {
	return s.data
}

// Err returns any scanning error.
func (s *sseScanner) Err() error {
	return s.err
}
