package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/pkg/claudecode"
)

// Schedule step kinds.
const (
	stepMessage  = "message"
	stepError    = "error"
	stepComplete = "complete"
)

// scheduleStep is one scripted emission of a synthetic session.
type scheduleStep struct {
	DelayMS int                    `json:"delay_ms"`
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
}

// SyntheticConfig describes a scripted agent session. The schedule comes
// from the launch configuration under the "schedule" key.
type SyntheticConfig struct {
	AgentID       string
	Configuration map[string]interface{}
}

// SyntheticRunner replays a scripted schedule through the real parsing and
// streaming pipeline. Used in tests and local development.
type SyntheticRunner struct {
	cfg      SyntheticConfig
	schedule []scheduleStep
	pipeline *pipeline
	logger   *logger.Logger
	onExit   ExitFunc

	status   atomic.Value // Status
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSyntheticRunner creates a scripted runner. The claude parser is used so
// synthetic sessions exercise the same frame handling as real ones.
func NewSyntheticRunner(cfg SyntheticConfig, sink Sink, onExit ExitFunc, log *logger.Logger) (*SyntheticRunner, error) {
	p, err := parser.New("claude")
	if err != nil {
		return nil, err
	}

	schedule, err := parseSchedule(cfg.Configuration)
	if err != nil {
		return nil, err
	}

	r := &SyntheticRunner{
		cfg:      cfg,
		schedule: schedule,
		pipeline: newPipeline(cfg.AgentID, p, sink, log),
		logger: log.WithFields(
			zap.String("component", "synthetic-runner"),
			zap.String("agent_id", cfg.AgentID)),
		onExit: onExit,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.status.Store(StatusStopped)
	return r, nil
}

// Status returns the current session status.
func (r *SyntheticRunner) Status() Status {
	return r.status.Load().(Status)
}

// Done is closed once the schedule has been replayed or the session stopped.
func (r *SyntheticRunner) Done() <-chan struct{} {
	return r.doneCh
}

// Start begins replaying the schedule.
func (r *SyntheticRunner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return fmt.Errorf("runner already started")
	}

	r.started = true
	r.status.Store(StatusRunning)

	go r.run(context.WithoutCancel(ctx))

	r.logger.Info("synthetic session started", zap.Int("steps", len(r.schedule)))
	return nil
}

// Stop interrupts the replay. Steps not yet emitted are skipped.
func (r *SyntheticRunner) Stop(ctx context.Context) error {
	r.startMu.Lock()
	started := r.started
	r.startMu.Unlock()

	if !started {
		return nil
	}

	if r.Status() == StatusRunning {
		r.status.Store(StatusStopping)
	}
	r.stopOnce.Do(func() { close(r.stopCh) })

	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *SyntheticRunner) run(ctx context.Context) {
	defer close(r.doneCh)

	r.replay(ctx)

	r.status.Store(StatusStopped)
	r.logger.Info("synthetic session ended")

	if r.onExit != nil {
		r.onExit(r.cfg.AgentID, r.pipeline.sawResult.Load(), nil)
	}
}

func (r *SyntheticRunner) replay(ctx context.Context) {
	for _, step := range r.schedule {
		if step.DelayMS > 0 {
			timer := time.NewTimer(time.Duration(step.DelayMS) * time.Millisecond)
			select {
			case <-timer.C:
			case <-r.stopCh:
				timer.Stop()
				return
			}
		} else {
			select {
			case <-r.stopCh:
				return
			default:
			}
		}

		line, err := encodeStep(step)
		if err != nil {
			r.logger.Warn("skipping invalid schedule step", zap.Error(err))
			continue
		}
		r.pipeline.handleLine(ctx, line)

		// Terminal steps end the session regardless of what follows.
		if step.Type == stepComplete || step.Type == stepError {
			return
		}
	}
}

// parseSchedule extracts the scripted steps from the launch configuration.
func parseSchedule(cfg map[string]interface{}) ([]scheduleStep, error) {
	raw, ok := cfg["schedule"]
	if !ok {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid synthetic schedule: %w", err)
	}
	var steps []scheduleStep
	if err := json.Unmarshal(encoded, &steps); err != nil {
		return nil, fmt.Errorf("invalid synthetic schedule: %w", err)
	}
	return steps, nil
}

// encodeStep renders a schedule step as the stream-json frame a real
// provider would emit.
func encodeStep(step scheduleStep) ([]byte, error) {
	content, _ := step.Data["content"].(string)

	switch step.Type {
	case stepMessage:
		return json.Marshal(map[string]interface{}{
			"type": claudecode.MessageTypeStreamEvent,
			"event": map[string]interface{}{
				"type":  claudecode.EventContentBlockDelta,
				"index": 0,
				"delta": map[string]interface{}{
					"type": claudecode.DeltaText,
					"text": content,
				},
			},
		})
	case stepComplete:
		frame := map[string]interface{}{
			"type":    claudecode.MessageTypeResult,
			"subtype": claudecode.SubtypeSuccess,
		}
		if content != "" {
			frame["result"] = content
		}
		if usage, ok := step.Data["usage"]; ok {
			frame["usage"] = usage
		}
		return json.Marshal(frame)
	case stepError:
		frame := map[string]interface{}{
			"type":     claudecode.MessageTypeResult,
			"subtype":  claudecode.SubtypeError,
			"is_error": true,
		}
		if content != "" {
			frame["result"] = content
		}
		return json.Marshal(frame)
	default:
		return nil, fmt.Errorf("unknown schedule step type %q", step.Type)
	}
}
