package runner

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agent/parser"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// maxStreamLineBytes caps a single stream line. Assistant turns can carry
// whole files, so this is generous.
const maxStreamLineBytes = 10 * 1024 * 1024

// pipeline funnels raw stream lines through a parser into the sink and
// tracks whether a terminal result event was observed.
type pipeline struct {
	agentID string
	parser  parser.Parser
	sink    Sink
	logger  *logger.Logger

	sawResult atomic.Bool
}

func newPipeline(agentID string, p parser.Parser, sink Sink, log *logger.Logger) *pipeline {
	return &pipeline{
		agentID: agentID,
		parser:  p,
		sink:    sink,
		logger:  log.WithFields(zap.String("agent_id", agentID)),
	}
}

// handleLine parses one line and forwards any resulting message. Malformed
// lines are logged and skipped so one bad frame cannot end a session.
func (p *pipeline) handleLine(ctx context.Context, line []byte) {
	msg, err := p.parser.Parse(line)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			p.logger.Warn("skipping malformed stream line", zap.Error(parseErr))
		} else {
			p.logger.Error("parser error", zap.Error(err))
		}
		return
	}
	if msg == nil {
		return
	}

	msg.AgentID = p.agentID
	if parser.IsTerminal(msg) {
		p.sawResult.Store(true)
	}

	if err := p.sink.OnMessage(ctx, msg); err != nil {
		p.logger.Error("failed to deliver stream message",
			zap.String("message_type", string(msg.Type)),
			zap.Error(err))
	}
}
