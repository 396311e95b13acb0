package application

import (
	"context"
	"time"

	"github.com/writeflow/writeflow/internal/domain/queue"
	"github.com/writeflow/writeflow/internal/domain/service"
	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
)

// queueTodoEmitter adapts service.TodoEmitter onto the two sinks a TodoPlan/
// TodoExecute/TodoSummary message needs to reach: the todo message queue (so
// a future HTTP/gRPC consumer can replay or subscribe to the sequence) and
// the event bus (so WritingHook/ReminderEngine, which already subscribe to
// bus events, see todo-engine activity without a second wiring path).
type queueTodoEmitter struct {
	bus   eventbus.Bus
	queue *queue.Queue
}

const todoEmitterSource = "todo-engine"

func (e *queueTodoEmitter) EmitTodoPlan(p service.TodoPlanPayload) {
	e.enqueue(queue.TypeTodoPlan, queue.PriorityNormal, p)
	e.bus.Publish(context.Background(), eventbus.NewEvent(service.EventTodoChanged, map[string]any{
		"phase": "plan",
		"count": len(p.Todos),
	}))
}

func (e *queueTodoEmitter) EmitTodoExecute(p service.TodoExecutePayload) {
	e.enqueue(queue.TypeTodoExecute, queue.PriorityHigh, p)
	e.bus.Publish(context.Background(), eventbus.NewEvent(service.EventTodoChanged, map[string]any{
		"phase": "execute",
		"id":    p.Todo.ID,
	}))
}

func (e *queueTodoEmitter) EmitTodoSummary(p service.TodoSummaryPayload) {
	e.enqueue(queue.TypeTodoSummary, queue.PriorityNormal, p)
	e.bus.Publish(context.Background(), eventbus.NewEvent(service.EventTodoChanged, map[string]any{
		"phase":     "summary",
		"completed": len(p.Completed),
	}))
}

// enqueue drops the message on a full, un-outranking queue rather than
// block the todo engine — Health().Rejected surfaces the drop rate.
func (e *queueTodoEmitter) enqueue(t queue.MessageType, pri queue.Priority, payload any) {
	if e.queue == nil {
		return
	}
	_ = e.queue.Enqueue(queue.Message{
		Type:      t,
		Priority:  pri,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    todoEmitterSource,
	})
}
