package events

import (
	"log/slog"
	"testing"
)

func TestBusOnAndUnsubscribe(t *testing.T) {
	b := NewBus(slog.Default())

	var got []string
	unsub := b.On(SiteCreated, func(e Event) { got = append(got, e.Type) })
	b.Emit(Event{Type: SiteCreated})
	b.Emit(Event{Type: SiteDeleted})
	unsub()
	b.Emit(Event{Type: SiteCreated})

	if len(got) != 1 {
		t.Errorf("deliveries = %d, want 1", len(got))
	}
}

func TestBusOnAll(t *testing.T) {
	b := NewBus(slog.Default())

	count := 0
	b.OnAll(func(Event) { count++ })
	b.Emit(Event{Type: BatchIngested})
	b.Emit(Event{Type: StateUpdated})

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestBusRecoversPanic(t *testing.T) {
	b := NewBus(slog.Default())

	reached := false
	b.On(AssignmentCreated, func(Event) { panic("boom") })
	b.OnAll(func(Event) { reached = true })
	b.Emit(Event{Type: AssignmentCreated})

	if !reached {
		t.Error("handler after panicking one was not called")
	}
}

func TestNilBusEmit(t *testing.T) {
	var b *Bus
	b.Emit(Event{Type: SiteCreated})
}
