// Package events is the in-process notification bus. Management operations
// emit an Event after they commit; the web socket hub, MQTT bridge, and
// rules engine subscribe.
package events

import (
	"log/slog"
	"sync"

	"devicetrack/internal/model"
)

// Event types
const (
	SiteCreated        = "site_created"
	SiteUpdated        = "site_updated"
	SiteDeleted        = "site_deleted"
	ZoneCreated        = "zone_created"
	ZoneUpdated        = "zone_updated"
	ZoneDeleted        = "zone_deleted"
	DeviceCreated      = "device_created"
	DeviceUpdated      = "device_updated"
	DeviceDeleted      = "device_deleted"
	AssignmentCreated  = "assignment_created"
	AssignmentReleased = "assignment_released"
	AssignmentUpdated  = "assignment_updated"
	AssignmentDeleted  = "assignment_deleted"
	BatchIngested      = "batch_ingested"
	StateUpdated       = "state_updated"
)

// Event is a bus notification.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Deleted is the payload of the *_deleted events.
type Deleted struct {
	Token string `json:"token"`
	Force bool   `json:"force"`
}

// Batch is the payload of BatchIngested.
type Batch struct {
	AssignmentToken string                         `json:"assignment_token"`
	Response        model.DeviceEventBatchResponse `json:"response"`
}

// State is the payload of StateUpdated. Active is false once the
// assignment has been released or deleted; events can still be ingested
// into it, but transports should stop mirroring its state.
type State struct {
	AssignmentToken string                `json:"assignment_token"`
	Active          bool                  `json:"active"`
	State           model.AssignmentState `json:"state"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus provides pub/sub for management events.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers. A nil bus drops the event.
// Handlers are called synchronously; a panicking handler is recovered.
func (b *Bus) Emit(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
