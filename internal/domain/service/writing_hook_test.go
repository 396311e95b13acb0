package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
)

func TestWritingHook_ExpandsFileMentionInLatestUserMessage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("draft notes"), 0644); err != nil {
		t.Fatal(err)
	}

	bus := newFakeBus()
	hook := NewWritingHook(dir, NewTodoEngine(&fakeTodoEmitter{}), bus)

	req := &LLMRequest{Messages: []LLMMessage{
		{Role: "user", Content: "summarize @notes.md"},
	}}
	hook.BeforeLLMCall(context.Background(), req, 0)

	if got := req.Messages[0].Content; got == "summarize @notes.md" {
		t.Fatalf("expected mention to be expanded, got %q", got)
	}
}

func TestWritingHook_FiresSessionStartupOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	bus := newFakeBus()
	var fired int
	bus.Subscribe(EventSessionStartup, func(ctx context.Context, evt eventbus.Event) {
		fired++
	})

	hook := NewWritingHook(dir, NewTodoEngine(&fakeTodoEmitter{}), bus)
	req := &LLMRequest{Messages: []LLMMessage{{Role: "user", Content: "hi"}}}

	hook.BeforeLLMCall(context.Background(), req, 0)
	hook.BeforeLLMCall(context.Background(), req, 1)

	if fired != 1 {
		t.Fatalf("expected session startup to fire once, fired %d times", fired)
	}
}

func TestWritingHook_FlushesBufferedRemindersAsSystemMessage(t *testing.T) {
	dir := t.TempDir()
	bus := newFakeBus()
	hook := NewWritingHook(dir, NewTodoEngine(&fakeTodoEmitter{}), bus)

	hook.EmitReminder(Reminder{Category: ReminderCategoryTodo, Content: "no outline attached yet"})

	req := &LLMRequest{Messages: []LLMMessage{{Role: "user", Content: "continue"}}}
	hook.BeforeLLMCall(context.Background(), req, 0)

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "system" {
		t.Fatalf("expected a trailing system message, got role %q", last.Role)
	}
	if !strings.Contains(last.Content, "no outline attached yet") {
		t.Fatalf("expected reminder content in system message, got %q", last.Content)
	}

	req2 := &LLMRequest{Messages: []LLMMessage{{Role: "user", Content: "and again"}}}
	hook.BeforeLLMCall(context.Background(), req2, 1)
	if len(req2.Messages) != 1 {
		t.Fatalf("expected reminders to be drained after first flush, got %d messages", len(req2.Messages))
	}
}

func TestWritingHook_TodoToolCallPublishesTodoChanged(t *testing.T) {
	dir := t.TempDir()
	bus := newFakeBus()
	var fired int
	bus.Subscribe(EventTodoChanged, func(ctx context.Context, evt eventbus.Event) {
		fired++
	})

	hook := NewWritingHook(dir, NewTodoEngine(&fakeTodoEmitter{}), bus)
	hook.AfterToolCall(context.Background(), "todo_write", "ok", true)
	hook.AfterToolCall(context.Background(), "read_file", "ok", true)

	if fired != 1 {
		t.Fatalf("expected exactly one todo:changed publish, got %d", fired)
	}
}
