package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoHandler is returned by Dispatch for events nobody registered.
var ErrNoHandler = errors.New("no handler registered")

// Handler consumes the raw payload of one inbound event.
type Handler func(data json.RawMessage) error

// Handlers routes inbound events to the handler registered for their name.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers creates an empty handler registry.
func NewHandlers() *Handlers {
	return &Handlers{
		handlers: make(map[string]Handler),
	}
}

// Register sets the handler for event, replacing any previous one.
func (h *Handlers) Register(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
}

// Dispatch calls the handler registered for event.
func (h *Handlers) Dispatch(event string, data json.RawMessage) error {
	h.mu.RLock()
	handler, ok := h.handlers[event]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("event %q: %w", event, ErrNoHandler)
	}
	return handler(data)
}

// Events lists the registered event names in sorted order.
func (h *Handlers) Events() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.handlers))
	for e := range h.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
