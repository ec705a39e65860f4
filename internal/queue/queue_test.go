package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

type fakeStamina struct {
	mu      sync.Mutex
	canReply bool
	level   domain.StaminaLevel
	consumed []int
}

func (f *fakeStamina) CanReply() bool           { f.mu.Lock(); defer f.mu.Unlock(); return f.canReply }
func (f *fakeStamina) Level() domain.StaminaLevel { f.mu.Lock(); defer f.mu.Unlock(); return f.level }
func (f *fakeStamina) Consume(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, n)
}

type fakeProcessor struct {
	mu      sync.Mutex
	batches [][]domain.QueuedMessage
	decision domain.LLMDecision
	err      error
}

func (f *fakeProcessor) ProcessMessages(ctx context.Context, snapshot []domain.QueuedMessage) (domain.LLMDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, snapshot)
	return f.decision, f.err
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeListener struct {
	mu      sync.Mutex
	flushed []domain.QueueFlushedEvent
	errored []domain.QueueErrorEvent
}

func (l *fakeListener) OnQueueFlushed(evt domain.QueueFlushedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushed = append(l.flushed, evt)
}
func (l *fakeListener) OnQueueError(evt domain.QueueErrorEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errored = append(l.errored, evt)
}

func newTestQueue(cfg Config) (*Queue, *fakeStamina, *fakeProcessor, *fakeListener) {
	st := &fakeStamina{canReply: true, level: domain.LevelHigh}
	proc := &fakeProcessor{}
	lst := &fakeListener{}
	q := New(cfg, st, proc, lst, nil)
	return q, st, proc, lst
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSilenceTrigger(t *testing.T) {
	q, _, proc, _ := newTestQueue(Config{SilenceSeconds: 1, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "hi"})
	waitFor(t, 3*time.Second, func() bool { return proc.calls() == 1 })
	if len(proc.batches[0]) != 1 || proc.batches[0][0].ID != "m1" {
		t.Fatalf("unexpected batch: %+v", proc.batches)
	}
}

func TestSizeTrigger(t *testing.T) {
	q, _, proc, _ := newTestQueue(Config{SilenceSeconds: 999, MaxQueueSize: 3, MaxQueueAgeSeconds: 999})
	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "a"})
	q.Enqueue(domain.InboundMessage{ID: "m2", ConversationID: "c1", Content: "b"})
	q.Enqueue(domain.InboundMessage{ID: "m3", ConversationID: "c1", Content: "c"})
	waitFor(t, time.Second, func() bool { return proc.calls() == 1 })
	if len(proc.batches[0]) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(proc.batches[0]))
	}
	if len(q.Snapshot()) != 0 {
		t.Fatalf("expected queue empty after size flush, got %+v", q.Snapshot())
	}
}

func TestHighPriorityImmediateFlush(t *testing.T) {
	q, _, proc, _ := newTestQueue(Config{BotName: "FingerBot", SilenceSeconds: 999, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "@FingerBot hi"})
	waitFor(t, time.Second, func() bool { return proc.calls() == 1 })
	if len(proc.batches[0]) != 1 {
		t.Fatalf("expected single-message batch, got %d", len(proc.batches[0]))
	}
}

func TestStaminaCriticalDropsQueue(t *testing.T) {
	q, st, proc, _ := newTestQueue(Config{SilenceSeconds: 999, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	st.canReply = false
	st.level = domain.LevelCritical

	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "hi"})
	res := q.Flush("c1", ReasonManual)
	if res.Processed {
		t.Fatal("expected processed=false")
	}
	if res.Reason != ReasonStaminaInsufficient {
		t.Fatalf("expected stamina_insufficient, got %s", res.Reason)
	}
	if proc.calls() != 0 {
		t.Fatal("expected no processor call")
	}
	snap := q.Snapshot()
	for _, s := range snap {
		if s.Queued != 0 {
			t.Fatalf("expected queue drained, got %+v", snap)
		}
	}
}

func TestClearIsIdempotent(t *testing.T) {
	q, _, _, _ := newTestQueue(Config{SilenceSeconds: 999, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "hi"})
	if n := q.Clear(); n != 1 {
		t.Fatalf("expected 1 dropped, got %d", n)
	}
	if n := q.Clear(); n != 0 {
		t.Fatalf("expected second clear to be a no-op, got %d dropped", n)
	}
}

func TestManualFlushTwiceCallsProcessorOnce(t *testing.T) {
	q, _, proc, _ := newTestQueue(Config{SilenceSeconds: 999, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	q.Enqueue(domain.InboundMessage{ID: "m1", ConversationID: "c1", Content: "hi"})
	q.Flush("c1", ReasonManual)
	q.Flush("c1", ReasonManual)
	if proc.calls() != 1 {
		t.Fatalf("expected exactly 1 processMessages call, got %d", proc.calls())
	}
}

func TestGroupProcessingStoppedSkipsReply(t *testing.T) {
	q, _, proc, _ := newTestQueue(Config{SilenceSeconds: 999, MaxQueueSize: 99, MaxQueueAgeSeconds: 999})
	q.SetGroupProcessing(false)
	q.Enqueue(domain.InboundMessage{ID: "m1", GroupID: "g1", ConversationID: "g1", Content: "hi"})
	res := q.Flush("g1", ReasonManual)
	if res.Reason != ReasonSkipReply {
		t.Fatalf("expected skip_reply, got %s", res.Reason)
	}
	if proc.calls() != 0 {
		t.Fatal("expected no processor call while group processing stopped")
	}
}
