package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTodoEmitter struct {
	plans     []TodoPlanPayload
	executes  []TodoExecutePayload
	summaries []TodoSummaryPayload
}

func (f *fakeTodoEmitter) EmitTodoPlan(p TodoPlanPayload)       { f.plans = append(f.plans, p) }
func (f *fakeTodoEmitter) EmitTodoExecute(p TodoExecutePayload) { f.executes = append(f.executes, p) }
func (f *fakeTodoEmitter) EmitTodoSummary(p TodoSummaryPayload) { f.summaries = append(f.summaries, p) }

func TestTodoEngine_StartSortsByPriorityThenCreatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoLow, CreatedAt: now},
		{ID: "b", Status: TodoPending, Priority: TodoHigh, CreatedAt: now.Add(time.Minute)},
		{ID: "c", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "d", Status: TodoPending, Priority: TodoMedium, CreatedAt: now},
	})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(emitter.plans) != 1 {
		t.Fatalf("expected 1 TodoPlan emitted, got %d", len(emitter.plans))
	}
	order := emitter.plans[0].Todos
	want := []string{"c", "b", "d", "a"}
	for i, id := range want {
		if order[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, order[i].ID, id)
		}
	}
	if emitter.plans[0].EstimatedDuration != 4*estimatedDurationPerTodo {
		t.Fatalf("unexpected estimated duration: %v", emitter.plans[0].EstimatedDuration)
	}
}

func TestTodoEngine_AdvanceEmitsOnlyFirstTodo(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "b", Status: TodoPending, Priority: TodoHigh, CreatedAt: now.Add(time.Second)},
	})
	_ = e.Start()
	if err := e.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(emitter.executes) != 1 || emitter.executes[0].Todo.ID != "a" {
		t.Fatalf("expected only 'a' to execute, got %+v", emitter.executes)
	}
}

func TestTodoEngine_InvariantRejectsAdvanceWhileInProgress(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "b", Status: TodoPending, Priority: TodoHigh, CreatedAt: now.Add(time.Second)},
	})
	_ = e.Start()
	_ = e.Advance()
	if err := e.Advance(); err == nil {
		t.Fatal("expected error advancing while a todo is already InProgress")
	}
	if len(emitter.executes) != 1 {
		t.Fatalf("expected execute count to stay at 1, got %d", len(emitter.executes))
	}
}

func TestTodoEngine_CompleteAdvancesToNext(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "b", Status: TodoPending, Priority: TodoHigh, CreatedAt: now.Add(time.Second)},
	})
	_ = e.Start()
	_ = e.Advance()
	if err := e.Complete("a"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(emitter.executes) != 2 || emitter.executes[1].Todo.ID != "b" {
		t.Fatalf("expected 'b' to execute next, got %+v", emitter.executes)
	}
}

func TestTodoEngine_SummaryEmittedWhenQueueExhausted(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
	})
	_ = e.Start()
	_ = e.Advance()
	if err := e.Complete("a"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(emitter.summaries) != 1 {
		t.Fatalf("expected 1 TodoSummary, got %d", len(emitter.summaries))
	}
	if len(emitter.summaries[0].Completed) != 1 || emitter.summaries[0].Completed[0].ID != "a" {
		t.Fatalf("unexpected summary contents: %+v", emitter.summaries[0])
	}
}

func TestTodoEngine_CompleteUnknownIDErrors(t *testing.T) {
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	if err := e.Complete("missing"); err == nil {
		t.Fatal("expected error for unknown todo id")
	}
}

func TestTodoEngine_RunParallelHonorsDependencies(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "research", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "draft", Status: TodoPending, Priority: TodoHigh, CreatedAt: now, Dependencies: []string{"research"}},
		{ID: "outline", Status: TodoPending, Priority: TodoMedium, CreatedAt: now},
	})

	var mu sync.Mutex
	var ranOrder []string
	err := e.RunParallel(context.Background(), 2, func(ctx context.Context, t Todo) error {
		mu.Lock()
		ranOrder = append(ranOrder, t.ID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}

	pos := map[string]int{}
	for i, id := range ranOrder {
		pos[id] = i
	}
	if pos["draft"] <= pos["research"] {
		t.Fatalf("expected draft to run after research, order was %v", ranOrder)
	}
	if len(emitter.summaries) != 1 || len(emitter.summaries[0].Completed) != 3 {
		t.Fatalf("expected 1 summary with 3 completed todos, got %+v", emitter.summaries)
	}
}

func TestTodoEngine_RunParallelSkipsDependentsOfFailure(t *testing.T) {
	now := time.Now()
	emitter := &fakeTodoEmitter{}
	e := NewTodoEngine(emitter)
	e.Load([]Todo{
		{ID: "a", Status: TodoPending, Priority: TodoHigh, CreatedAt: now},
		{ID: "b", Status: TodoPending, Priority: TodoHigh, CreatedAt: now, Dependencies: []string{"a"}},
	})

	err := e.RunParallel(context.Background(), 2, func(ctx context.Context, t Todo) error {
		if t.ID == "a" {
			return errSentinel
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected RunParallel to surface the failed todo's error")
	}
}

var errSentinel = &todoTestError{"boom"}

type todoTestError struct{ msg string }

func (e *todoTestError) Error() string { return e.msg }
