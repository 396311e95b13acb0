// Package queue implements the agent runtime's Message Queue: a bounded,
// multi-producer, single-consumer priority queue that is the sole
// synchronization point between external producers and the Agent Loop.
// Grounded in infrastructure/eventbus's mutex + buffered-channel
// dispatch idiom, extended with priority bands and drop-lowest
// backpressure.
package queue

import (
	"context"
	"sync"
	"time"

	rterr "github.com/writeflow/writeflow/pkg/errors"
)

// Priority bands, lowest first. Within one band, strict FIFO; across
// bands, strict priority (Critical > High > Normal > Low).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	numPriorities
)

// DefaultCapacity is the queue's default bound across all bands combined.
const DefaultCapacity = 1024

// MessageType enumerates the kinds of payload the Agent Loop routes.
type MessageType string

const (
	TypeUserInput    MessageType = "UserInput"
	TypeSlashCommand MessageType = "SlashCommand"
	TypeToolResult   MessageType = "ToolResult"
	TypeTodoPlan     MessageType = "TodoPlan"
	TypeTodoExecute  MessageType = "TodoExecute"
	TypeTodoUpdate   MessageType = "TodoUpdate"
	TypeTodoComplete MessageType = "TodoComplete"
	TypeTodoSummary  MessageType = "TodoSummary"
	TypeAgentResponse MessageType = "AgentResponse"
)

// Message is the queue's unit of work. Immutable once enqueued.
type Message struct {
	ID        string
	Type      MessageType
	Priority  Priority
	Payload   any
	Timestamp time.Time
	Source    string

	seq uint64
}

// Health is a point-in-time snapshot of queue occupancy.
type Health struct {
	Depth        int
	HighWaterMark int
	Rejected     uint64
	Evicted      uint64
	Closed       bool
}

// OverflowHook is invoked with the evicted message whenever drop-lowest
// backpressure discards an entry to make room for a higher-priority one.
type OverflowHook func(evicted Message)

// Queue is a bounded, priority-ordered, single-consumer message mailbox.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	bands    [numPriorities][]*Message
	capacity int
	depth    int
	highWater int
	closed   bool
	nextSeq  uint64
	rejected uint64
	evicted  uint64
	overflow OverflowHook
}

// New creates a Queue with the given total capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// SetOverflowHook registers the callback invoked when drop-lowest evicts
// a message. Not safe to call concurrently with Enqueue.
func (q *Queue) SetOverflowHook(hook OverflowHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.overflow = hook
}

// minOccupiedBand returns the lowest-priority band that currently holds
// at least one message, or -1 if the queue is empty.
func (q *Queue) minOccupiedBand() Priority {
	for band := Priority(0); band < numPriorities; band++ {
		if len(q.bands[band]) > 0 {
			return band
		}
	}
	return -1
}

// Enqueue adds msg to its priority band. When the queue is at capacity,
// drop-lowest backpressure applies: if msg outranks the current minimum
// occupied band, the oldest entry in that minimum band is evicted (and
// reported to the overflow hook) to make room; otherwise msg is rejected.
func (q *Queue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return rterr.New(rterr.KindQueueClosed, "queue is closed")
	}
	if msg.Priority < 0 || msg.Priority >= numPriorities {
		return rterr.New(rterr.KindInvalidInput, "invalid message priority")
	}

	if q.depth >= q.capacity {
		min := q.minOccupiedBand()
		if min < 0 || msg.Priority <= min {
			q.rejected++
			return rterr.New(rterr.KindQueueRejected, "queue full: message does not outrank current minimum")
		}
		evicted := q.bands[min][0]
		q.bands[min] = q.bands[min][1:]
		q.depth--
		q.evicted++
		if q.overflow != nil {
			q.overflow(*evicted)
		}
	}

	q.nextSeq++
	m := msg
	m.seq = q.nextSeq
	q.bands[msg.Priority] = append(q.bands[msg.Priority], &m)
	q.depth++
	if q.depth > q.highWater {
		q.highWater = q.depth
	}
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available, ctx is done, or the
// queue is closed. It returns the highest-priority, oldest message.
// Wakes exactly one waiter per Enqueue call (sync.Cond.Signal).
func (q *Queue) Dequeue(ctx context.Context) (Message, error) {
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.notEmpty.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if msg, ok := q.popLocked(); ok {
			return msg, nil
		}
		if q.closed {
			return Message{}, rterr.New(rterr.KindQueueClosed, "queue is closed")
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return Message{}, rterr.Wrap(rterr.KindCancelled, "dequeue cancelled", ctx.Err())
			default:
			}
		}
		q.notEmpty.Wait()
	}
}

// TryDequeue returns immediately: the next message and true, or a zero
// Message and false if the queue is currently empty.
func (q *Queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (Message, bool) {
	for band := numPriorities - 1; band >= 0; band-- {
		if len(q.bands[band]) > 0 {
			m := q.bands[band][0]
			q.bands[band] = q.bands[band][1:]
			q.depth--
			return *m, true
		}
	}
	return Message{}, false
}

// Close marks the queue closed; idempotent. Pending items still drain
// via Dequeue; once empty, blocked and future Dequeue calls return
// KindQueueClosed. Enqueue after Close always fails.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Health reports a snapshot of current occupancy.
func (q *Queue) Health() Health {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Health{
		Depth:         q.depth,
		HighWaterMark: q.highWater,
		Rejected:      q.rejected,
		Evicted:       q.evicted,
		Closed:        q.closed,
	}
}
