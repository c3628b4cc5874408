// Package handler dispatches decoded events to registered handler
// functions. Handlers are keyed by "<contract>:<event>" IDs and run inside
// the block transaction the engine opens, so a handler error rolls back
// everything written for that block.
package handler

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"

	"github.com/0xredeth/Quittance/pkg/decoder"
)

// BlockInfo carries the header fields handlers usually need.
type BlockInfo struct {
	Number     uint64
	Hash       string
	Time       time.Time
	ParentHash string
}

// Context is passed to every handler invocation. DB is the transaction for
// the block being indexed; writes through it commit or roll back with the
// block.
type Context struct {
	DB    *gorm.DB
	Block BlockInfo
	Log   types.Log
	Event *decoder.DecodedEvent
}

// Func handles one decoded event.
type Func func(ctx *Context) error

// Registry maps event IDs to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Func),
	}
}

// Register binds fn to eventID, replacing any previous handler.
func (r *Registry) Register(eventID string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventID] = fn
}

// Get returns the handler for eventID.
func (r *Registry) Get(eventID string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[eventID]
	return fn, ok
}

// Handle dispatches ctx.Event to its handler. An event with no registered
// handler is skipped silently; the engine stores the raw event either way.
func (r *Registry) Handle(ctx *Context) error {
	if ctx.Event == nil {
		return fmt.Errorf("event is nil")
	}

	fn, ok := r.Get(ctx.Event.EventID)
	if !ok {
		return nil
	}

	if err := fn(ctx); err != nil {
		return fmt.Errorf("handler %s: %w", ctx.Event.EventID, err)
	}
	return nil
}

// HasHandler reports whether eventID has a handler.
func (r *Registry) HasHandler(eventID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[eventID]
	return ok
}

// ListHandlers returns the registered event IDs.
func (r *Registry) ListHandlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

var globalRegistry = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry {
	return globalRegistry
}

// Register binds fn to eventID on the global registry.
func Register(eventID string, fn Func) {
	globalRegistry.Register(eventID, fn)
}

// Get returns the handler for eventID from the global registry.
func Get(eventID string) (Func, bool) {
	return globalRegistry.Get(eventID)
}
