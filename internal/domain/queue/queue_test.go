package queue

import (
	"context"
	"testing"
	"time"

	rterr "github.com/writeflow/writeflow/pkg/errors"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New(10)

	_ = q.Enqueue(Message{ID: "l1", Priority: PriorityLow})
	_ = q.Enqueue(Message{ID: "n1", Priority: PriorityNormal})
	_ = q.Enqueue(Message{ID: "c1", Priority: PriorityCritical})
	_ = q.Enqueue(Message{ID: "n2", Priority: PriorityNormal})

	want := []string{"c1", "n1", "n2", "l1"}
	for _, id := range want {
		msg, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if msg.ID != id {
			t.Fatalf("got %q, want %q", msg.ID, id)
		}
	}
}

func TestEnqueueRejectsInvalidPriority(t *testing.T) {
	q := New(10)
	err := q.Enqueue(Message{ID: "bad", Priority: Priority(99)})
	if rterr.KindOf(err) != rterr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBackpressureDropsLowestWhenOutranked(t *testing.T) {
	q := New(2)
	var evictedID string
	q.SetOverflowHook(func(m Message) { evictedID = m.ID })

	_ = q.Enqueue(Message{ID: "l1", Priority: PriorityLow})
	_ = q.Enqueue(Message{ID: "l2", Priority: PriorityLow})

	if err := q.Enqueue(Message{ID: "h1", Priority: PriorityHigh}); err != nil {
		t.Fatalf("expected eviction to make room, got error: %v", err)
	}
	if evictedID != "l1" {
		t.Fatalf("expected l1 evicted, got %q", evictedID)
	}

	msg, _ := q.Dequeue(context.Background())
	if msg.ID != "h1" {
		t.Fatalf("expected h1 first after eviction, got %q", msg.ID)
	}

	h := q.Health()
	if h.Evicted != 1 {
		t.Fatalf("expected one evicted message, got %d", h.Evicted)
	}
}

func TestEnqueueRejectsWhenNotOutranking(t *testing.T) {
	q := New(1)
	_ = q.Enqueue(Message{ID: "c1", Priority: PriorityCritical})

	err := q.Enqueue(Message{ID: "c2", Priority: PriorityCritical})
	if rterr.KindOf(err) != rterr.KindQueueRejected {
		t.Fatalf("expected KindQueueRejected, got %v", err)
	}

	h := q.Health()
	if h.Rejected != 1 {
		t.Fatalf("expected one rejected message, got %d", h.Rejected)
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := New(10)
	doneCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		doneCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-doneCh:
		if rterr.KindOf(err) != rterr.KindQueueClosed {
			t.Fatalf("expected KindQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())

	doneCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		doneCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-doneCh:
		if rterr.KindOf(err) != rterr.KindCancelled {
			t.Fatalf("expected KindCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after context cancellation")
	}
}

func TestTryDequeueEmpty(t *testing.T) {
	q := New(10)
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue to return ok=false")
	}
}

func TestPendingItemsDrainAfterClose(t *testing.T) {
	q := New(10)
	_ = q.Enqueue(Message{ID: "a", Priority: PriorityNormal})
	q.Close()

	msg, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("expected pending item to drain before closed error, got %v", err)
	}
	if msg.ID != "a" {
		t.Fatalf("got %q, want %q", msg.ID, "a")
	}

	if err := q.Enqueue(Message{ID: "b", Priority: PriorityNormal}); rterr.KindOf(err) != rterr.KindQueueClosed {
		t.Fatalf("expected Enqueue after Close to fail, got %v", err)
	}

	_, err = q.Dequeue(context.Background())
	if rterr.KindOf(err) != rterr.KindQueueClosed {
		t.Fatalf("expected KindQueueClosed once drained, got %v", err)
	}
}
