package agentstream

import (
	"context"
	"fmt"
	"sort"
	"sync"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// SeqLocal marks optimistic local messages that were never persisted. They
// pass through the tracker untouched and never advance the high-water mark.
const SeqLocal int64 = -1

// FetchFunc retrieves persisted messages for an agent with sequence numbers
// strictly greater than sinceSeq, ordered ascending. Implementations are
// typically backed by GET /api/v1/agents/:id/messages?since_seq=N.
type FetchFunc func(ctx context.Context, agentID string, sinceSeq int64) ([]*v1.AgentMessage, error)

// GapTracker reconciles a live message feed against the persisted sequence
// for one agent. Messages arriving in order are passed through; stale or
// duplicate messages are dropped; a jump in sequence numbers triggers a
// backfill fetch so the consumer never renders a hole in the transcript.
type GapTracker struct {
	agentID string
	fetch   FetchFunc

	mu      sync.Mutex
	lastSeq int64
	seen    map[string]struct{}
}

// NewGapTracker creates a tracker for one agent. fetch is called to backfill
// whenever a sequence gap is observed.
func NewGapTracker(agentID string, fetch FetchFunc) *GapTracker {
	return &GapTracker{
		agentID: agentID,
		fetch:   fetch,
		seen:    make(map[string]struct{}),
	}
}

// Prime ingests already-loaded history without fetching, typically the
// result of the initial message list request.
func (g *GapTracker) Prime(messages []*v1.AgentMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, msg := range messages {
		if msg == nil || msg.SequenceNumber == SeqLocal {
			continue
		}
		g.seen[msg.ID] = struct{}{}
		if msg.SequenceNumber > g.lastSeq {
			g.lastSeq = msg.SequenceNumber
		}
	}
}

// Apply ingests one live message and returns the messages the consumer
// should append, in order. The returned slice is empty for stale input and
// holds the backfilled range plus the message itself after a gap.
func (g *GapTracker) Apply(ctx context.Context, msg *v1.AgentMessage) ([]*v1.AgentMessage, error) {
	if msg == nil {
		return nil, nil
	}
	if msg.SequenceNumber == SeqLocal {
		return []*v1.AgentMessage{msg}, nil
	}

	g.mu.Lock()
	if _, dup := g.seen[msg.ID]; dup || msg.SequenceNumber <= g.lastSeq {
		g.mu.Unlock()
		return nil, nil
	}
	if msg.SequenceNumber == g.lastSeq+1 {
		g.seen[msg.ID] = struct{}{}
		g.lastSeq = msg.SequenceNumber
		g.mu.Unlock()
		return []*v1.AgentMessage{msg}, nil
	}
	sinceSeq := g.lastSeq
	g.mu.Unlock()

	// Gap: pull everything after the high-water mark and merge the live
	// message in, since the fetch may race its own persistence.
	fetched, err := g.fetch(ctx, g.agentID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("gap fill for agent %s failed: %w", g.agentID, err)
	}

	candidates := make([]*v1.AgentMessage, 0, len(fetched)+1)
	candidates = append(candidates, fetched...)
	candidates = append(candidates, msg)

	g.mu.Lock()
	defer g.mu.Unlock()

	merged := make([]*v1.AgentMessage, 0, len(candidates))
	inBatch := make(map[string]struct{}, len(candidates))
	for _, m := range candidates {
		if m == nil || m.SequenceNumber == SeqLocal || m.SequenceNumber <= g.lastSeq {
			continue
		}
		if _, ok := g.seen[m.ID]; ok {
			continue
		}
		if _, ok := inBatch[m.ID]; ok {
			continue
		}
		inBatch[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].SequenceNumber < merged[j].SequenceNumber
	})
	for _, m := range merged {
		g.seen[m.ID] = struct{}{}
		if m.SequenceNumber > g.lastSeq {
			g.lastSeq = m.SequenceNumber
		}
	}
	return merged, nil
}

// LastSeq returns the highest persisted sequence number applied so far.
func (g *GapTracker) LastSeq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSeq
}
