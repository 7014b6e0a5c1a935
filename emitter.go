package pairux

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// ============================================================================
// Event Emitter
// ============================================================================

// Emitter delivers named events to the UI layer.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any) error

func (f EmitterFunc) Emit(event string, payload any) error {
	return f(event, payload)
}

// EventHandler handles one emitted event.
type EventHandler func(event string, payload any)

// EventBus is an in-process Emitter with per-event and catch-all
// listeners. A panicking listener is recovered and reported as an error.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
	any       []EventHandler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]EventHandler)}
}

// On registers a handler for one event name.
func (b *EventBus) On(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], handler)
}

// OnAny registers a handler for every event.
func (b *EventBus) OnAny(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, handler)
}

func (b *EventBus) Emit(event string, payload any) error {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.listeners[event])+len(b.any))
	handlers = append(handlers, b.listeners[event]...)
	handlers = append(handlers, b.any...)
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := callHandler(h, event, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func callHandler(h EventHandler, event string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener for %q panicked: %v", event, r)
		}
	}()
	h(event, payload)
	return nil
}

// RemoveAll drops every listener.
func (b *EventBus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]EventHandler)
	b.any = nil
}

// emit forwards to e and logs a failure; emission never fails the caller.
func emit(e Emitter, event string, payload any) {
	if e == nil {
		return
	}
	if err := e.Emit(event, payload); err != nil {
		glog.Warningf("emit %s: %v", event, err)
	}
}
