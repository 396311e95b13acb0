package service

import (
	"context"
	"testing"
	"time"

	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
)

type fakeBus struct {
	handlers map[string][]eventbus.Handler
}

func newFakeBus() *fakeBus { return &fakeBus{handlers: make(map[string][]eventbus.Handler)} }

func (b *fakeBus) Publish(ctx context.Context, event eventbus.Event) {
	for _, h := range b.handlers[event.Type()] {
		h(ctx, event)
	}
}
func (b *fakeBus) Subscribe(eventType string, handler eventbus.Handler) {
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}
func (b *fakeBus) Unsubscribe(eventType string, handler eventbus.Handler) {}
func (b *fakeBus) Close()                                                {}

type fakeReminderSink struct {
	reminders []Reminder
}

func (s *fakeReminderSink) EmitReminder(r Reminder) { s.reminders = append(s.reminders, r) }

func TestReminderEngine_FiresOnceThenSuppresses(t *testing.T) {
	bus := newFakeBus()
	sink := &fakeReminderSink{}
	NewReminderEngine(bus, sink, DefaultReminderRules())

	evt := eventbus.NewEvent(EventSessionStartup, map[string]any{"todoCount": 0})
	bus.Publish(context.Background(), evt)
	bus.Publish(context.Background(), evt)

	if len(sink.reminders) != 1 {
		t.Fatalf("expected exactly 1 reminder after repeated events, got %d", len(sink.reminders))
	}
}

func TestReminderEngine_NoReminderWhenConditionNotMet(t *testing.T) {
	bus := newFakeBus()
	sink := &fakeReminderSink{}
	NewReminderEngine(bus, sink, DefaultReminderRules())

	evt := eventbus.NewEvent(EventSessionStartup, map[string]any{"todoCount": 3})
	bus.Publish(context.Background(), evt)

	if len(sink.reminders) != 0 {
		t.Fatalf("expected no reminder when todos already exist, got %d", len(sink.reminders))
	}
}

func TestReminderEngine_InvalidateAllowsRefire(t *testing.T) {
	bus := newFakeBus()
	sink := &fakeReminderSink{}
	engine := NewReminderEngine(bus, sink, DefaultReminderRules())

	evt := eventbus.NewEvent(EventSessionStartup, map[string]any{"todoCount": 0})
	bus.Publish(context.Background(), evt)
	engine.Invalidate("session:startup:empty-todos")
	bus.Publish(context.Background(), evt)

	if len(sink.reminders) != 2 {
		t.Fatalf("expected 2 reminders after invalidation, got %d", len(sink.reminders))
	}
}

func TestReminderEngine_RespectsMaxPerSession(t *testing.T) {
	bus := newFakeBus()
	sink := &fakeReminderSink{}
	rule := ReminderRule{
		EventType: "stress:event",
		SuppressKey: func(evt eventbus.Event) string {
			payload := evt.Payload().(map[string]any)
			id, _ := payload["id"].(int)
			return "stress:" + time.Duration(id).String()
		},
		Build: func(evt eventbus.Event) *Reminder {
			return &Reminder{Category: ReminderCategorySession, Priority: ReminderLow, Content: "x", Timestamp: evt.Timestamp()}
		},
	}
	engine := NewReminderEngine(bus, sink, []ReminderRule{rule})

	for i := 0; i < MaxRemindersPerSession+5; i++ {
		evt := eventbus.NewEvent("stress:event", map[string]any{"id": i})
		bus.Publish(context.Background(), evt)
	}

	if len(sink.reminders) != MaxRemindersPerSession {
		t.Fatalf("expected reminders capped at %d, got %d", MaxRemindersPerSession, len(sink.reminders))
	}
	if engine.RemainingBudget() != 0 {
		t.Fatalf("expected remaining budget 0, got %d", engine.RemainingBudget())
	}
}

func TestReminderEngine_FileReadAdvisoryOnLargeFile(t *testing.T) {
	bus := newFakeBus()
	sink := &fakeReminderSink{}
	NewReminderEngine(bus, sink, DefaultReminderRules())

	small := eventbus.NewEvent(EventFileRead, map[string]any{"path": "a.go", "sizeBytes": 100})
	large := eventbus.NewEvent(EventFileRead, map[string]any{"path": "b.go", "sizeBytes": 600 * 1024})
	bus.Publish(context.Background(), small)
	bus.Publish(context.Background(), large)

	if len(sink.reminders) != 1 {
		t.Fatalf("expected 1 advisory for the large file only, got %d", len(sink.reminders))
	}
	if sink.reminders[0].Category != ReminderCategoryFile {
		t.Fatalf("expected file category, got %v", sink.reminders[0].Category)
	}
}
