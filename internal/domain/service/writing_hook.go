package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
)

// WritingHook wires the todo engine, system reminder engine, and file
// reference resolver into the agent loop's lifecycle without requiring
// the loop itself to know about any of them. Embed via HookChain alongside
// LoggingHook/MetricsHook. It also implements ReminderSink: reminders the
// Reminder Engine emits (over the same event bus this hook publishes to)
// are buffered here and injected into the next LLM request as a system
// message, per spec §4.8's "injected into context, never surfaced to the
// end user" requirement — there's no separate rendering path for them.
type WritingHook struct {
	NoOpHook

	fileRefs *FileReferenceResolver
	todos    *TodoEngine
	bus      eventbus.Bus

	startupFired atomic.Bool
	hasOutline   atomic.Bool

	remindersMu sync.Mutex
	reminders   []Reminder
}

// NewWritingHook builds a hook bound to a working directory's file reference
// resolver, the session's todo engine, and the event bus shared with the
// reminder engine.
func NewWritingHook(workingDir string, todos *TodoEngine, bus eventbus.Bus) *WritingHook {
	return &WritingHook{
		fileRefs: NewFileReferenceResolver(workingDir),
		todos:    todos,
		bus:      bus,
	}
}

// SetHasOutline records whether the current todo list has an attached
// outline, consulted by the no-outline reminder rule on the next todo change.
func (h *WritingHook) SetHasOutline(v bool) {
	h.hasOutline.Store(v)
}

// EmitReminder buffers a reminder for delivery on the next BeforeLLMCall —
// the ReminderEngine's sink.
func (h *WritingHook) EmitReminder(r Reminder) {
	h.remindersMu.Lock()
	h.reminders = append(h.reminders, r)
	h.remindersMu.Unlock()
}

// BeforeLLMCall expands @file mentions in the latest user message before it
// reaches the model, fires the session-startup event exactly once, and
// flushes any buffered reminders as a system message ahead of the request.
func (h *WritingHook) BeforeLLMCall(ctx context.Context, req *LLMRequest, step int) {
	if h.startupFired.CompareAndSwap(false, true) {
		h.bus.Publish(ctx, eventbus.NewEvent(EventSessionStartup, map[string]any{
			"todoCount": len(h.todos.Snapshot()),
		}))
	}

	if len(req.Messages) > 0 {
		last := &req.Messages[len(req.Messages)-1]
		if last.Role == "user" && last.Content != "" {
			expanded, refs := h.fileRefs.Resolve(last.Content)
			last.Content = expanded
			for _, ref := range refs {
				if ref.Rejected {
					continue
				}
				h.bus.Publish(ctx, eventbus.NewEvent(EventFileRead, map[string]any{
					"path":      ref.Path,
					"sizeBytes": len(ref.Content),
				}))
			}
		}
	}

	h.remindersMu.Lock()
	pending := h.reminders
	h.reminders = nil
	h.remindersMu.Unlock()
	if len(pending) > 0 {
		var sb strings.Builder
		for _, r := range pending {
			sb.WriteString("- ")
			sb.WriteString(r.Content)
			sb.WriteString("\n")
		}
		req.Messages = append(req.Messages, LLMMessage{
			Role:    "system",
			Content: "<system-reminder>\n" + sb.String() + "</system-reminder>",
		})
	}
}

// AfterToolCall publishes a todo-changed event whenever a todo-mutating tool
// runs, so the reminder engine can re-evaluate its todo-related rules.
func (h *WritingHook) AfterToolCall(ctx context.Context, toolName string, output string, success bool) {
	if !success {
		return
	}
	switch toolName {
	case "todo_write", "todo_read":
		h.bus.Publish(ctx, eventbus.NewEvent(EventTodoChanged, map[string]any{
			"hasOutline": h.hasOutline.Load(),
		}))
	}
}

var _ AgentHook = (*WritingHook)(nil)
var _ ReminderSink = (*WritingHook)(nil)
