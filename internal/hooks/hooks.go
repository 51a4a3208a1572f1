// Package hooks is an in-process bus for parley lifecycle events. Producers
// never wait on subscribers unless they call Emit.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/logging"
)

// Lifecycle events.
const (
	EventGatewayStart      = "gateway.start"
	EventGatewayStop       = "gateway.stop"
	EventTurnCompleted     = "turn.completed"
	EventTaskCompleted     = "task.completed"
	EventPermissionChanged = "permission.changed"
)

// AllEvents lists every event parley emits.
var AllEvents = []string{
	EventGatewayStart,
	EventGatewayStop,
	EventTurnCompleted,
	EventTaskCompleted,
	EventPermissionChanged,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to an event. A returned error is logged and otherwise ignored.
type Handler func(ctx context.Context, p Payload) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager holds subscriptions and dispatches events to them.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	closed   bool
	log      *logging.Logger
}

// NewManager creates an empty bus.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On subscribes handler to event under name.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off drops every handler registered as name for event. It reports whether
// anything was removed.
func (m *Manager) Off(event, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	kept := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
	} else {
		m.handlers[event] = kept
	}
	return len(kept) != len(handlers)
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Emit runs the handlers for event in registration order and returns when
// all of them have.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}
	p := Payload{Event: event, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		m.run(ctx, h, p)
	}
}

// EmitAsync hands the event to each handler on its own goroutine. Handlers
// keep running after ctx is cancelled; use Wait to join them. Events emitted
// once Wait has been called are dropped.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.log.Debug().Str("event", event).Msg("hook bus closed, event dropped")
		return
	}
	handlers := m.handlers[event]
	if len(handlers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := Payload{Event: event, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.run(ctx, h, p)
		}()
	}
}

// Wait stops accepting async events and blocks until every handler already
// started by EmitAsync has returned.
func (m *Manager) Wait() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.inflight.Wait()
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Str("panic", fmt.Sprint(r)).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook handler error")
	}
}

// Count returns the number of handlers subscribed to event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events with at least one subscriber, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]string, 0, len(m.handlers))
	for event := range m.handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}
