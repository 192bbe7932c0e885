package process

import (
	"context"
	"strings"
	"sync"
)

// TaskContext is what a registered handler sees: the live instance (for
// reading/writing variables) and the element id the handler is running
// for. Handlers must not mutate ActiveTokens or ParallelJoinWaits.
type TaskContext struct {
	Instance  *Instance
	ElementId string
}

// Handler is invoked for a serviceTask whose implementation type matches a
// registered name. Returning an error surfaces as HandlerFailure and
// aborts the current Step before its commit phase.
type Handler func(ctx context.Context, tc TaskContext) error

// HandlerRegistry maps a serviceTask's implementation/type attribute
// (case-insensitive) to a Handler.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for a given type name.
func (r *HandlerRegistry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(taskType)] = h
}

// Lookup returns the handler registered for taskType, case-insensitively.
func (r *HandlerRegistry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(taskType)]
	return h, ok
}
