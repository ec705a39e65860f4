package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/taskrunner"
)

type fakeRunner struct {
	mu    sync.Mutex
	tasks []struct {
		kind    domain.TaskKind
		payload any
	}
}

func (f *fakeRunner) Enqueue(kind domain.TaskKind, payload any, priority taskrunner.Priority, maxAttempts int) (*taskrunner.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, struct {
		kind    domain.TaskKind
		payload any
	}{kind, payload})
	return nil, nil
}

func (f *fakeRunner) deliverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, task := range f.tasks {
		if task.kind == domain.TaskDeliverReply {
			n++
		}
	}
	return n
}

func TestReplyEnqueuesOneDeliverPerMessage(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	msg := domain.InboundMessage{ID: "m1", SenderID: "u1", ConversationID: "c1"}
	c.RecordPending(msg)

	c.OnQueueFlushed(domain.QueueFlushedEvent{
		ContextID:       "c1",
		BatchInboundIDs: []string{"m1"},
		Decision: domain.LLMDecision{
			Kind:     domain.DecisionReply,
			Messages: []string{"hello", "world"},
			Thinking: "thinking text",
		},
	})

	if r.deliverCount() != 2 {
		t.Fatalf("expected 2 deliver-reply tasks, got %d", r.deliverCount())
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected correlation removed, got %d pending", c.PendingCount())
	}
}

func TestNoReplyRemovesCorrelationAndRecordsThought(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	c.RecordPending(domain.InboundMessage{ID: "m1", ConversationID: "c1"})

	c.OnQueueFlushed(domain.QueueFlushedEvent{
		ContextID:       "c1",
		BatchInboundIDs: []string{"m1"},
		Decision:        domain.LLMDecision{Kind: domain.DecisionNoReply, Thinking: "why not"},
	})

	if c.PendingCount() != 0 {
		t.Fatal("expected correlation removed on no_reply")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, task := range r.tasks {
		if task.kind == domain.TaskRecordThought {
			found = true
		}
	}
	if !found {
		t.Fatal("expected record-thought task enqueued")
	}
}

func TestDegradedFallbackUsesAllPending(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	c.RecordPending(domain.InboundMessage{ID: "m1", SenderID: "u1", ConversationID: "c1"})
	c.RecordPending(domain.InboundMessage{ID: "m2", SenderID: "u1", ConversationID: "c1"})

	c.OnQueueFlushed(domain.QueueFlushedEvent{
		ContextID: "c1",
		Decision:  domain.LLMDecision{Kind: domain.DecisionReply, Messages: []string{"ok"}},
	})

	if c.PendingCount() != 0 {
		t.Fatalf("expected degraded fallback to correlate and clear all pending, got %d", c.PendingCount())
	}
}

func TestChoosesMostRecentAsTarget(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.RecordPending(domain.InboundMessage{ID: "m1", SenderID: "older"})
	c.now = func() time.Time { return base.Add(time.Second) }
	c.RecordPending(domain.InboundMessage{ID: "m2", SenderID: "newer"})

	c.OnQueueFlushed(domain.QueueFlushedEvent{
		ContextID:       "c1",
		BatchInboundIDs: []string{"m1", "m2"},
		Decision:        domain.LLMDecision{Kind: domain.DecisionReply, Messages: []string{"hi"}},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	payload := r.tasks[0].payload.(domain.DeliverReplyPayload)
	if payload.Originating.SenderID != "newer" {
		t.Fatalf("expected newer entry chosen as target, got %s", payload.Originating.SenderID)
	}
}

func TestSweepEvictsOldEntries(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.RecordPending(domain.InboundMessage{ID: "m1"})

	c.now = func() time.Time { return base.Add(31 * time.Minute) }
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := &fakeRunner{}
	c := New(r, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
