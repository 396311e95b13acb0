package service

import (
	"context"
	"sync"
	"time"

	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
)

// ReminderCategory groups reminders the way spec §4.8 does, so a
// suppression key can be scoped per category+subject rather than global.
type ReminderCategory string

const (
	ReminderCategorySession ReminderCategory = "session"
	ReminderCategoryTodo    ReminderCategory = "todo"
	ReminderCategoryFile    ReminderCategory = "file"
)

// ReminderPriority mirrors the Message Queue's bands so reminders can be
// folded straight into an AgentResponse/queue entry.
type ReminderPriority int

const (
	ReminderLow ReminderPriority = iota
	ReminderNormal
	ReminderHigh
)

// Reminder is a meta-message injected into the model's context but never
// surfaced to the end user, per spec §4.8.
type Reminder struct {
	Category  ReminderCategory
	Priority  ReminderPriority
	Content   string
	Timestamp time.Time
	key       string // suppression key; not part of the public payload
}

// MaxRemindersPerSession bounds how many reminders the engine will emit
// in one session, per spec §4.8.
const MaxRemindersPerSession = 10

// ReminderSink receives reminders as they're emitted, typically wiring
// them into the message queue as a TypeAgentResponse-carried meta-message.
type ReminderSink interface {
	EmitReminder(Reminder)
}

// ReminderRule produces a reminder for an observed event, or nil if the
// event doesn't warrant one. suppressKey identifies the condition being
// reminded about; the engine won't re-fire the same key until Invalidate
// is called for it (typically because the relevant state changed).
type ReminderRule struct {
	EventType   string
	SuppressKey func(evt eventbus.Event) string
	Build       func(evt eventbus.Event) *Reminder
}

// ReminderEngine implements spec §4.8: a state-driven injector that
// observes session/todo/file events over the event bus and emits bounded,
// suppressed reminders.
type ReminderEngine struct {
	mu         sync.Mutex
	bus        eventbus.Bus
	sink       ReminderSink
	rules      []ReminderRule
	fired      map[string]bool
	emitCount  int
}

// NewReminderEngine wires rules onto bus, dispatching through sink.
func NewReminderEngine(bus eventbus.Bus, sink ReminderSink, rules []ReminderRule) *ReminderEngine {
	e := &ReminderEngine{
		bus:   bus,
		sink:  sink,
		rules: rules,
		fired: make(map[string]bool),
	}
	for _, rule := range rules {
		r := rule
		bus.Subscribe(r.EventType, e.handlerFor(r))
	}
	return e
}

func (e *ReminderEngine) handlerFor(rule ReminderRule) eventbus.Handler {
	return func(ctx context.Context, evt eventbus.Event) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.emitCount >= MaxRemindersPerSession {
			return
		}

		key := rule.EventType
		if rule.SuppressKey != nil {
			key = rule.SuppressKey(evt)
		}
		if e.fired[key] {
			return
		}

		rem := rule.Build(evt)
		if rem == nil {
			return
		}
		rem.key = key
		e.fired[key] = true
		e.emitCount++
		e.sink.EmitReminder(*rem)
	}
}

// Invalidate clears suppression for key, allowing the associated rule to
// fire again the next time its condition is observed. Callers invoke this
// when the relevant state changes (e.g. the todo list gains a new item).
func (e *ReminderEngine) Invalidate(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fired, key)
}

// RemainingBudget reports how many more reminders this session may emit.
func (e *ReminderEngine) RemainingBudget() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return MaxRemindersPerSession - e.emitCount
}

const (
	EventSessionStartup = "session:startup"
	EventTodoChanged    = "todo:changed"
	EventFileRead       = "file:read"
)

// DefaultReminderRules builds the stock rule set: an empty-todo-list
// nudge on startup, a stale-outline nudge when the todo list changes
// without an active outline, and a large-file-read advisory.
func DefaultReminderRules() []ReminderRule {
	return []ReminderRule{
		{
			EventType:   EventSessionStartup,
			SuppressKey: func(eventbus.Event) string { return "session:startup:empty-todos" },
			Build: func(evt eventbus.Event) *Reminder {
				payload, ok := evt.Payload().(map[string]any)
				if !ok {
					return nil
				}
				count, _ := payload["todoCount"].(int)
				if count > 0 {
					return nil
				}
				return &Reminder{
					Category:  ReminderCategorySession,
					Priority:  ReminderLow,
					Content:   "No todos are tracked yet; consider planning before large edits.",
					Timestamp: evt.Timestamp(),
				}
			},
		},
		{
			EventType:   EventTodoChanged,
			SuppressKey: func(eventbus.Event) string { return "todo:changed:no-outline" },
			Build: func(evt eventbus.Event) *Reminder {
				payload, ok := evt.Payload().(map[string]any)
				if !ok {
					return nil
				}
				hasOutline, _ := payload["hasOutline"].(bool)
				if hasOutline {
					return nil
				}
				return &Reminder{
					Category:  ReminderCategoryTodo,
					Priority:  ReminderNormal,
					Content:   "The active todo list has no outline attached; confirm scope before executing.",
					Timestamp: evt.Timestamp(),
				}
			},
		},
		{
			EventType: EventFileRead,
			SuppressKey: func(evt eventbus.Event) string {
				payload, _ := evt.Payload().(map[string]any)
				path, _ := payload["path"].(string)
				return "file:read:large:" + path
			},
			Build: func(evt eventbus.Event) *Reminder {
				payload, ok := evt.Payload().(map[string]any)
				if !ok {
					return nil
				}
				size, _ := payload["sizeBytes"].(int)
				path, _ := payload["path"].(string)
				if size < 512*1024 {
					return nil
				}
				return &Reminder{
					Category:  ReminderCategoryFile,
					Priority:  ReminderLow,
					Content:   "Large file read: " + path + "; consider summarizing before quoting it back.",
					Timestamp: evt.Timestamp(),
				}
			},
		},
	}
}
