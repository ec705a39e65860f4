// Package queue implements the Per-Context Queue (C4): buffers inbound
// messages per conversation context and evaluates five hybrid trigger
// policies (priority, silence, size, age, manual) before handing a batch
// snapshot off to the assembler/LLM pipeline.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// StaminaGate is the narrow slice of the Stamina Controller that C4 needs.
type StaminaGate interface {
	CanReply() bool
	Level() domain.StaminaLevel
	Consume(messageCount int)
}

// BatchProcessor hands a drained snapshot to the assembler/LLM pipeline
// (C5 -> C2) and returns the resulting decision.
type BatchProcessor interface {
	ProcessMessages(ctx context.Context, snapshot []domain.QueuedMessage) (domain.LLMDecision, error)
}

// Config holds C4's global configuration.
type Config struct {
	BotName            string
	SilenceSeconds     int
	MaxQueueSize       int
	MaxQueueAgeSeconds int
}

const (
	ReasonHighPriority       = "high_priority"
	ReasonSilence            = "silence"
	ReasonSize               = "size"
	ReasonAge                = "age"
	ReasonManual             = "manual"
	ReasonStaminaInsufficient = "stamina_insufficient"
	ReasonQueueBusy          = "queue_busy"
	ReasonSkipReply          = "skip_reply"
	ReasonEmpty              = "empty"
)

// FlushResult is the outcome of a single-context flush attempt.
type FlushResult struct {
	ContextID string
	Processed bool
	Reason    string
}

type contextState struct {
	mu              sync.Mutex
	contextID       string
	isGroup         bool
	messages        []domain.QueuedMessage
	silenceTimer    *time.Timer
	processing      bool
	lastFlushAt     time.Time
	lastFlushReason string
}

// Queue owns the mapping from contextId to PerContextQueueState.
type Queue struct {
	cfg       Config
	stamina   StaminaGate
	processor BatchProcessor
	listener  domain.QueueListener
	logger    *slog.Logger
	now       func() time.Time

	outerMu  sync.Mutex
	contexts map[string]*contextState

	totalMu        sync.Mutex
	totalProcessed int64

	groupProcessingMu sync.Mutex
	groupProcessing    bool
}

// New constructs a Queue. listener receives QueueFlushed/QueueError events
// (typically the Outbound Correlator).
func New(cfg Config, stamina StaminaGate, processor BatchProcessor, listener domain.QueueListener, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:             cfg,
		stamina:         stamina,
		processor:       processor,
		listener:        listener,
		logger:          logger,
		now:             time.Now,
		contexts:        make(map[string]*contextState),
		groupProcessing: true,
	}
}

// SetGroupProcessing implements the admin "start"/"stop" toggle: when
// disabled, flushes targeting group contexts are skipped without invoking
// the LLM pipeline.
func (q *Queue) SetGroupProcessing(enabled bool) {
	q.groupProcessingMu.Lock()
	defer q.groupProcessingMu.Unlock()
	q.groupProcessing = enabled
}

func (q *Queue) groupProcessingEnabled() bool {
	q.groupProcessingMu.Lock()
	defer q.groupProcessingMu.Unlock()
	return q.groupProcessing
}

func (q *Queue) getOrCreate(id string, isGroup bool) *contextState {
	q.outerMu.Lock()
	defer q.outerMu.Unlock()
	cs, ok := q.contexts[id]
	if !ok {
		cs = &contextState{contextID: id, isGroup: isGroup}
		q.contexts[id] = cs
	}
	return cs
}

func (q *Queue) lookup(id string) *contextState {
	q.outerMu.Lock()
	defer q.outerMu.Unlock()
	return q.contexts[id]
}

// cleanupIfEmpty removes a context from the map iff it is empty, has no
// armed timer, and is not mid-flush. It takes the outer lock and the
// context lock sequentially, never simultaneously, so no new lock-ordering
// constraint is introduced.
func (q *Queue) cleanupIfEmpty(id string) {
	q.outerMu.Lock()
	cs, ok := q.contexts[id]
	if !ok {
		q.outerMu.Unlock()
		return
	}
	cs.mu.Lock()
	empty := len(cs.messages) == 0 && cs.silenceTimer == nil && !cs.processing
	cs.mu.Unlock()
	if empty {
		delete(q.contexts, id)
	}
	q.outerMu.Unlock()
}

func isHighPriority(msg domain.InboundMessage, botName string) bool {
	if msg.Kind == domain.KindCommand {
		return true
	}
	if botName == "" {
		return false
	}
	content := strings.ToLower(msg.Content)
	name := strings.ToLower(botName)
	return strings.Contains(content, "@"+name) || strings.Contains(content, name)
}

// Enqueue ingests one inbound message per §4.4.
func (q *Queue) Enqueue(msg domain.InboundMessage) {
	ctxID := msg.ContextID()
	cs := q.getOrCreate(ctxID, msg.GroupID != "")

	qm := domain.QueuedMessage{
		InboundMessage: msg,
		IsHighPriority: isHighPriority(msg, q.cfg.BotName),
		EnqueuedAt:     q.now(),
	}

	cs.mu.Lock()
	cs.messages = append(cs.messages, qm)
	metrics.QueueDepth.Inc()

	if qm.IsHighPriority {
		q.cancelTimerLocked(cs)
		cs.mu.Unlock()
		q.Flush(ctxID, ReasonHighPriority)
		return
	}

	q.armSilenceTimerLocked(cs)

	var trigger string
	switch {
	case len(cs.messages) >= q.cfg.MaxQueueSize && q.cfg.MaxQueueSize > 0:
		trigger = ReasonSize
	case q.cfg.MaxQueueAgeSeconds > 0 && len(cs.messages) > 0 &&
		q.now().Sub(cs.messages[0].EnqueuedAt) >= time.Duration(q.cfg.MaxQueueAgeSeconds)*time.Second:
		trigger = ReasonAge
	}
	cs.mu.Unlock()

	if trigger != "" {
		q.Flush(ctxID, trigger)
	}
}

// cancelTimerLocked stops and clears the silence timer. Caller holds cs.mu.
func (q *Queue) cancelTimerLocked(cs *contextState) {
	if cs.silenceTimer != nil {
		cs.silenceTimer.Stop()
		cs.silenceTimer = nil
	}
}

// armSilenceTimerLocked re-arms the one-shot silence timer. Caller holds
// cs.mu.
func (q *Queue) armSilenceTimerLocked(cs *contextState) {
	q.cancelTimerLocked(cs)
	delay := time.Duration(q.cfg.SilenceSeconds) * time.Second
	cs.silenceTimer = time.AfterFunc(delay, func() { q.onSilenceFire(cs.contextID) })
}

func (q *Queue) onSilenceFire(ctxID string) {
	cs := q.lookup(ctxID)
	if cs == nil {
		return
	}
	cs.mu.Lock()
	cs.silenceTimer = nil
	empty := len(cs.messages) == 0
	cs.mu.Unlock()
	if !empty {
		q.Flush(ctxID, ReasonSilence)
	} else {
		q.cleanupIfEmpty(ctxID)
	}
}

// Flush runs the flush protocol for one context.
func (q *Queue) Flush(ctxID, reason string) FlushResult {
	cs := q.lookup(ctxID)
	if cs == nil {
		return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonEmpty}
	}

	cs.mu.Lock()
	q.cancelTimerLocked(cs)

	if cs.processing {
		cs.mu.Unlock()
		return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonQueueBusy}
	}
	if len(cs.messages) == 0 {
		cs.mu.Unlock()
		q.cleanupIfEmpty(ctxID)
		return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonEmpty}
	}

	if cs.isGroup && !q.groupProcessingEnabled() {
		dropped := cs.messages
		cs.messages = nil
		cs.mu.Unlock()
		metrics.QueueDepth.Add(-int64(len(dropped)))
		q.logger.Info("queue: group processing stopped, dropping batch", "context", ctxID, "dropped", len(dropped))
		q.cleanupIfEmpty(ctxID)
		return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonSkipReply}
	}

	if !q.stamina.CanReply() {
		if q.stamina.Level() == domain.LevelCritical {
			dropped := cs.messages
			cs.messages = nil
			cs.mu.Unlock()
			metrics.QueueDepth.Add(-int64(len(dropped)))
			q.logger.Warn("queue: critical stamina, dropping batch", "context", ctxID, "dropped", len(dropped))
			q.cleanupIfEmpty(ctxID)
			return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonStaminaInsufficient}
		}
		cs.mu.Unlock()
		return FlushResult{ContextID: ctxID, Processed: false, Reason: ReasonStaminaInsufficient}
	}

	snapshot := cs.messages
	cs.messages = nil
	cs.processing = true
	cs.mu.Unlock()
	metrics.QueueDepth.Add(-int64(len(snapshot)))

	ids := make([]string, len(snapshot))
	for i, m := range snapshot {
		ids[i] = m.ID
	}

	decision, err := q.processor.ProcessMessages(context.Background(), snapshot)

	cs.mu.Lock()
	cs.processing = false
	if err == nil {
		cs.lastFlushAt = q.now()
		cs.lastFlushReason = reason
	}
	cs.mu.Unlock()
	q.cleanupIfEmpty(ctxID)

	if err != nil {
		q.logger.Error("queue: flush failed, batch discarded", "context", ctxID, "error", err)
		if q.listener != nil {
			q.listener.OnQueueError(domain.QueueErrorEvent{ContextID: ctxID, BatchInboundIDs: ids, Err: err})
		}
		return FlushResult{ContextID: ctxID, Processed: false, Reason: "error"}
	}

	q.stamina.Consume(len(snapshot))
	q.totalMu.Lock()
	q.totalProcessed++
	q.totalMu.Unlock()

	if q.listener != nil {
		q.listener.OnQueueFlushed(domain.QueueFlushedEvent{
			ContextID:       ctxID,
			Decision:        decision,
			BatchInboundIDs: ids,
			Reason:          reason,
		})
	}
	return FlushResult{ContextID: ctxID, Processed: true, Reason: reason}
}

// FlushAll flushes every non-empty context with reason "manual".
func (q *Queue) FlushAll() []FlushResult {
	q.outerMu.Lock()
	ids := make([]string, 0, len(q.contexts))
	for id := range q.contexts {
		ids = append(ids, id)
	}
	q.outerMu.Unlock()

	results := make([]FlushResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, q.Flush(id, ReasonManual))
	}
	return results
}

// Clear drops every queued message without processing, cancels all timers,
// and logs the dropped messages. Idempotent: a second call is a no-op.
func (q *Queue) Clear() int {
	q.outerMu.Lock()
	ids := make([]string, 0, len(q.contexts))
	for id := range q.contexts {
		ids = append(ids, id)
	}
	q.outerMu.Unlock()

	dropped := 0
	for _, id := range ids {
		cs := q.lookup(id)
		if cs == nil {
			continue
		}
		cs.mu.Lock()
		n := len(cs.messages)
		cs.messages = nil
		q.cancelTimerLocked(cs)
		cs.mu.Unlock()
		if n > 0 {
			metrics.QueueDepth.Add(-int64(n))
			q.logger.Info("queue: cleared", "context", id, "dropped", n)
			dropped += n
		}
		q.cleanupIfEmpty(id)
	}
	return dropped
}

// Status is a read-only snapshot for the observability/admin surface.
type Status struct {
	ContextID string
	Queued    int
	Processing bool
}

// Snapshot returns a status row per active context.
func (q *Queue) Snapshot() []Status {
	q.outerMu.Lock()
	css := make([]*contextState, 0, len(q.contexts))
	for _, cs := range q.contexts {
		css = append(css, cs)
	}
	q.outerMu.Unlock()

	out := make([]Status, 0, len(css))
	for _, cs := range css {
		cs.mu.Lock()
		out = append(out, Status{ContextID: cs.contextID, Queued: len(cs.messages), Processing: cs.processing})
		cs.mu.Unlock()
	}
	return out
}

// TotalProcessed returns the lifetime count of successfully processed
// batches.
func (q *Queue) TotalProcessed() int64 {
	q.totalMu.Lock()
	defer q.totalMu.Unlock()
	return q.totalProcessed
}
