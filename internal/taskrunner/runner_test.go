package taskrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func TestEnqueueWithoutHandlerFails(t *testing.T) {
	r := New(nil)
	_, err := r.Enqueue(domain.TaskDeliverReply, nil, Normal, 3)
	if err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestSuccessResolvesFuture(t *testing.T) {
	r := New(nil)
	r.Register(domain.TaskDeliverReply, func(ctx context.Context, task domain.Task) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	fut, err := r.Enqueue(domain.TaskDeliverReply, "payload", Normal, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestHighPriorityRunsBeforeNormal(t *testing.T) {
	r := New(nil)
	var order []string
	var mu sync.Mutex
	r.Register(domain.TaskDeliverReply, func(ctx context.Context, task domain.Task) error {
		mu.Lock()
		order = append(order, task.Payload.(string))
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Enqueue one normal task first, then a high-priority one, before the
	// worker starts, so ordering is deterministic.
	f1, _ := r.Enqueue(domain.TaskDeliverReply, "normal", Normal, 3)
	f2, _ := r.Enqueue(domain.TaskDeliverReply, "high", High, 3)

	go r.Run(ctx)
	f1.Wait(context.Background())
	f2.Wait(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("expected high priority task first, got %v", order)
	}
}

func TestRetryThenTerminalFailure(t *testing.T) {
	r := New(nil)
	var attempts int32
	r.Register(domain.TaskDeliverReply, func(ctx context.Context, task domain.Task) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	fut, _ := r.Enqueue(domain.TaskDeliverReply, "x", Normal, 2)
	err := fut.Wait(context.Background())
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if !errors.Is(err, domain.ErrTaskFailedTerminal) {
		t.Fatalf("expected ErrTaskFailedTerminal, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestShutdownDiscardsRemaining(t *testing.T) {
	r := New(nil)
	block := make(chan struct{})
	r.Register(domain.TaskDeliverReply, func(ctx context.Context, task domain.Task) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	f1, _ := r.Enqueue(domain.TaskDeliverReply, "in-flight", Normal, 3)
	time.Sleep(20 * time.Millisecond) // let the worker pick up f1
	f2, _ := r.Enqueue(domain.TaskDeliverReply, "queued", Normal, 3)

	r.Shutdown()
	close(block)

	if err := f1.Wait(context.Background()); err != nil {
		t.Fatalf("expected in-flight task to complete, got %v", err)
	}
	if err := f2.Wait(context.Background()); err == nil {
		t.Fatal("expected queued task to be discarded with an error")
	}
}
