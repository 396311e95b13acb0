package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/writeflow/writeflow/internal/domain/agent"
	rterr "github.com/writeflow/writeflow/pkg/errors"
)

// TodoStatus mirrors spec §3's Todo.status enum.
type TodoStatus string

const (
	TodoPending    TodoStatus = "Pending"
	TodoInProgress TodoStatus = "InProgress"
	TodoCompleted  TodoStatus = "Completed"
)

// TodoPriority mirrors spec §3's Todo.priority enum, with the numeric
// weights §4.7 sorts by (High=3, Medium=2, Low=1).
type TodoPriority string

const (
	TodoLow    TodoPriority = "Low"
	TodoMedium TodoPriority = "Medium"
	TodoHigh   TodoPriority = "High"
)

var todoPriorityWeight = map[TodoPriority]int{
	TodoHigh:   3,
	TodoMedium: 2,
	TodoLow:    1,
}

// Todo is spec §3's Todo type. Dependencies is an extension of the
// spec's ordering rules (§4.7): when non-empty, this todo will not start
// until every listed ID has completed, letting RunParallel schedule
// independent todos concurrently instead of the engine's default strict
// sequential Advance/Complete cycle.
type Todo struct {
	ID           string
	Content      string
	ActiveForm   string
	Status       TodoStatus
	Priority     TodoPriority
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Dependencies []string
}

// TodoPlanPayload is the body of the TodoPlan message emitted by
// startTodoQueueExecution step 2.
type TodoPlanPayload struct {
	Todos             []Todo
	EstimatedDuration time.Duration
}

// TodoExecutePayload is the body of a TodoExecute message.
type TodoExecutePayload struct {
	Todo Todo
}

// TodoSummaryPayload is the body of the terminal TodoSummary message.
type TodoSummaryPayload struct {
	Completed []Todo
}

// TodoEmitter is how the engine hands messages back to the Agent Loop's
// message queue, decoupling this package from the concrete queue type.
type TodoEmitter interface {
	EmitTodoPlan(TodoPlanPayload)
	EmitTodoExecute(TodoExecutePayload)
	EmitTodoSummary(TodoSummaryPayload)
}

// TodoEngine is the sub-agent layered over the Agent Loop that
// implements spec §4.7's startTodoQueueExecution: strict sequential
// execution of Pending todos, preserving invariant I1 (only one
// InProgress todo at a time).
type TodoEngine struct {
	mu      sync.Mutex
	todos   map[string]*Todo
	emitter TodoEmitter
	queue   []string // ordered pending IDs, set by Start
	cursor  int
}

// NewTodoEngine creates an engine that emits through emitter.
func NewTodoEngine(emitter TodoEmitter) *TodoEngine {
	return &TodoEngine{todos: make(map[string]*Todo), emitter: emitter}
}

// Load registers todos into the engine's working set (replacing any
// todo with the same ID).
func (e *TodoEngine) Load(todos []Todo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range todos {
		t := todos[i]
		e.todos[t.ID] = &t
	}
}

// estimatedDurationPerTodo is the 2-minute-per-todo estimate in §4.7 step 2.
const estimatedDurationPerTodo = 2 * time.Minute

// Start implements startTodoQueueExecution steps 1-2: load Pending
// todos, sort by priority desc then createdAt asc, and emit TodoPlan.
// It does not itself emit the first TodoExecute — call Advance for that,
// so callers can observe the plan before execution begins.
func (e *TodoEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending []*Todo
	for _, t := range e.todos {
		if t.Status == TodoPending {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		wi, wj := todoPriorityWeight[pending[i].Priority], todoPriorityWeight[pending[j].Priority]
		if wi != wj {
			return wi > wj
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]string, len(pending))
	snapshot := make([]Todo, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
		snapshot[i] = *t
	}
	e.queue = ids
	e.cursor = 0

	e.emitter.EmitTodoPlan(TodoPlanPayload{
		Todos:             snapshot,
		EstimatedDuration: estimatedDurationPerTodo * time.Duration(len(snapshot)),
	})
	return nil
}

// Advance emits TodoExecute for the current cursor todo, transitioning
// it to InProgress. Returns rterr.KindInvalidInput if another todo is
// already InProgress (invariant I1) or the queue is exhausted.
func (e *TodoEngine) Advance() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.todos {
		if t.Status == TodoInProgress {
			return rterr.New(rterr.KindInvalidInput, "another todo is already InProgress")
		}
	}

	if e.cursor >= len(e.queue) {
		e.emitSummaryLocked()
		return nil
	}

	id := e.queue[e.cursor]
	t := e.todos[id]
	t.Status = TodoInProgress
	t.UpdatedAt = time.Now()
	e.emitter.EmitTodoExecute(TodoExecutePayload{Todo: *t})
	return nil
}

// Complete transitions todoID to Completed (TodoComplete handling) and
// advances to the next Pending todo, or emits TodoSummary when none remain.
func (e *TodoEngine) Complete(todoID string) error {
	e.mu.Lock()
	t, ok := e.todos[todoID]
	if !ok {
		e.mu.Unlock()
		return rterr.New(rterr.KindInvalidInput, "unknown todo id")
	}
	t.Status = TodoCompleted
	t.UpdatedAt = time.Now()
	e.cursor++
	e.mu.Unlock()

	return e.Advance()
}

func (e *TodoEngine) emitSummaryLocked() {
	var completed []Todo
	for _, id := range e.queue {
		t := e.todos[id]
		if t.Status == TodoCompleted {
			completed = append(completed, *t)
		}
	}
	e.emitter.EmitTodoSummary(TodoSummaryPayload{Completed: completed})
}

// RunParallel is the optional parallel mode of startTodoQueueExecution:
// instead of Advance/Complete's strict one-at-a-time cursor, every
// Pending todo with its Dependencies satisfied runs as soon as it's
// ready, with independent todos in the same wave running concurrently up
// to maxParallel. Used only when the caller's todo set declares explicit
// Dependencies — plain priority-ordered todos (the common case) still go
// through Start/Advance/Complete. Emits one TodoExecute per todo as it
// starts and a single TodoSummary once the whole set has settled; it does
// not emit per-todo TodoComplete — exec itself is responsible for
// mutating engine state via Complete if the caller wants that tracked.
func (e *TodoEngine) RunParallel(ctx context.Context, maxParallel int, exec func(ctx context.Context, t Todo) error) error {
	e.mu.Lock()
	var pending []*Todo
	for _, t := range e.todos {
		if t.Status == TodoPending {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		wi, wj := todoPriorityWeight[pending[i].Priority], todoPriorityWeight[pending[j].Priority]
		if wi != wj {
			return wi > wj
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	nodes := make([]agent.WaveNode, 0, len(pending))
	byID := make(map[string]*Todo, len(pending))
	for _, t := range pending {
		nodes = append(nodes, agent.WaveNode{ID: t.ID, Dependencies: t.Dependencies})
		byID[t.ID] = t
	}
	e.emitter.EmitTodoPlan(TodoPlanPayload{
		Todos:             snapshotOf(pending),
		EstimatedDuration: estimatedDurationPerTodo * time.Duration(len(pending)),
	})
	e.mu.Unlock()

	results := agent.Schedule(ctx, nodes, maxParallel, func(ctx context.Context, id string) error {
		t := byID[id]

		e.mu.Lock()
		t.Status = TodoInProgress
		t.UpdatedAt = time.Now()
		e.emitter.EmitTodoExecute(TodoExecutePayload{Todo: *t})
		e.mu.Unlock()

		err := exec(ctx, *t)

		e.mu.Lock()
		if err != nil {
			t.Status = TodoPending
		} else {
			t.Status = TodoCompleted
		}
		t.UpdatedAt = time.Now()
		e.mu.Unlock()

		return err
	})

	e.mu.Lock()
	var completed []Todo
	for _, t := range byID {
		if t.Status == TodoCompleted {
			completed = append(completed, *t)
		}
	}
	e.emitter.EmitTodoSummary(TodoSummaryPayload{Completed: completed})
	e.mu.Unlock()

	for _, err := range results {
		if err != nil {
			return err
		}
	}
	return nil
}

func snapshotOf(todos []*Todo) []Todo {
	out := make([]Todo, len(todos))
	for i, t := range todos {
		out[i] = *t
	}
	return out
}

// Snapshot returns a copy of all known todos, for introspection/tests.
func (e *TodoEngine) Snapshot() []Todo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Todo, 0, len(e.todos))
	for _, t := range e.todos {
		out = append(out, *t)
	}
	return out
}
