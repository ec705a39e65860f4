// Package correlator implements the Outbound Correlator (C7): maps LLM
// outputs back to the inbound events that prompted them and hands delivery
// to the Task Runner.
package correlator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/taskrunner"
)

const pendingTTL = 30 * time.Minute

// TaskEnqueuer is the narrow slice of the Task Runner that C7 needs.
type TaskEnqueuer interface {
	Enqueue(kind domain.TaskKind, payload any, priority taskrunner.Priority, maxAttempts int) (*taskrunner.Future, error)
}

// Correlator implements domain.QueueListener.
type Correlator struct {
	mu          sync.Mutex
	pending     map[string]domain.PendingCorrelation
	runner      TaskEnqueuer
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Correlator. maxAttempts bounds retries of the tasks it
// enqueues (deliver-reply, record-thought).
func New(runner TaskEnqueuer, maxAttempts int, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Correlator{
		pending:     make(map[string]domain.PendingCorrelation),
		runner:      runner,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordPending is called by the Orchestrator at ingress, before the
// message is handed to the queue.
func (c *Correlator) RecordPending(msg domain.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[msg.ID] = domain.PendingCorrelation{
		InboundMessageID: msg.ID,
		Originating:      msg,
		CreatedAt:        c.now(),
	}
}

// PendingCount is a read-only snapshot for the observability surface.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) allPendingIDsLocked() []string {
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// OnQueueFlushed implements domain.QueueListener.
func (c *Correlator) OnQueueFlushed(evt domain.QueueFlushedEvent) {
	c.mu.Lock()

	var ids []string
	var strategy string
	switch {
	case len(evt.Decision.CorrelatedInboundIDs) > 0:
		ids = evt.Decision.CorrelatedInboundIDs
		strategy = "decision"
	case len(evt.BatchInboundIDs) > 0:
		ids = evt.BatchInboundIDs
		strategy = "batch"
	default:
		ids = c.allPendingIDsLocked()
		strategy = "degraded-all-pending"
	}
	c.logger.Warn("correlator: resolving targets", "strategy", strategy, "context", evt.ContextID, "count", len(ids))
	if strategy == "degraded-all-pending" {
		c.logger.Warn("correlator: degraded fallback fired, correlating against all pending ids", "context", evt.ContextID)
	}

	correlated := make([]domain.PendingCorrelation, 0, len(ids))
	for _, id := range ids {
		pc, ok := c.pending[id]
		if !ok {
			continue
		}
		correlated = append(correlated, pc)
	}

	decision := evt.Decision
	if decision.Kind == domain.DecisionNoReply {
		for _, pc := range correlated {
			delete(c.pending, pc.InboundMessageID)
		}
		c.mu.Unlock()
		if decision.Thinking != "" {
			c.enqueueThought(evt.ContextID, decision.Thinking)
		}
		return
	}

	// reply
	if len(correlated) == 0 {
		c.mu.Unlock()
		c.logger.Warn("correlator: reply decision with no correlated pending ids, dropping", "context", evt.ContextID)
		return
	}
	target := correlated[0]
	for _, pc := range correlated[1:] {
		if pc.CreatedAt.After(target.CreatedAt) {
			target = pc
		}
	}
	for _, pc := range correlated {
		delete(c.pending, pc.InboundMessageID)
	}
	c.mu.Unlock()

	mention := ""
	if decision.Mentions != nil && decision.Mentions[target.Originating.SenderID] {
		mention = target.Originating.SenderID
	}

	for _, text := range decision.Messages {
		c.enqueueDeliver(target.Originating, text, mention)
	}
	if decision.Thinking != "" {
		c.enqueueThought(evt.ContextID, decision.Thinking)
	}
}

// OnQueueError implements domain.QueueListener. The batch is considered
// delivered-with-error by C4; this only logs, leaving any still-pending
// correlations to expire via the TTL sweep.
func (c *Correlator) OnQueueError(evt domain.QueueErrorEvent) {
	c.logger.Error("correlator: queue reported flush error", "context", evt.ContextID, "batch", evt.BatchInboundIDs, "error", evt.Err)
}

func (c *Correlator) enqueueDeliver(originating domain.InboundMessage, content, mention string) {
	_, err := c.runner.Enqueue(domain.TaskDeliverReply, domain.DeliverReplyPayload{
		Originating: originating,
		Content:     content,
		Mention:     mention,
	}, taskrunner.Normal, c.maxAttempts)
	if err != nil {
		c.logger.Error("correlator: failed to enqueue deliver-reply task", "error", err)
	}
}

func (c *Correlator) enqueueThought(contextID, content string) {
	_, err := c.runner.Enqueue(domain.TaskRecordThought, domain.RecordThoughtPayload{
		ConversationID: contextID,
		Content:        content,
	}, taskrunner.Normal, c.maxAttempts)
	if err != nil {
		c.logger.Error("correlator: failed to enqueue record-thought task", "error", err)
	}
}

// Sweep evicts PendingCorrelations older than pendingTTL.
func (c *Correlator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-pendingTTL)
	evicted := 0
	for id, pc := range c.pending {
		if pc.CreatedAt.Before(cutoff) {
			delete(c.pending, id)
			evicted++
		}
	}
	return evicted
}

// EvictAll removes every pending correlation, returning how many were
// evicted. Called by the Orchestrator on shutdown.
func (c *Correlator) EvictAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	c.pending = make(map[string]domain.PendingCorrelation)
	return n
}

// Run drives the periodic eviction sweep until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Info("correlator: swept expired pending correlations", "count", n)
			}
		}
	}
}
