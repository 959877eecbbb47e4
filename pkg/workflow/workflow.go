// Package workflow implements the durable workflow state machines and
// their runtime: typed signal and query handlers, a FIFO signal inbox
// consumed at suspension points, and activity composition with
// heartbeat-driven progress.
//
// Workflow logic is deterministic by construction: it folds signals and
// activity results into local state and never reads clocks, random
// sources or I/O directly. Everything non-deterministic lives in the
// activity layer.
package workflow

import (
	"fmt"
	"sync"
)

// Signal is an asynchronous, ordered mutation request delivered to an
// open workflow instance.
type Signal struct {
	Name    string
	Payload []byte
}

// Logic is the shared contract of all workflow types. Run drives the
// state machine to its terminal result; HandleSignal and HandleQuery
// are invoked by the runtime under the instance lock, so they must be
// fast and must never block on I/O.
type Logic interface {
	Run(wctx *Context, input []byte) ([]byte, error)
	HandleSignal(name string, payload []byte) error
	HandleQuery(name string) (any, error)
}

// heartbeatSink is implemented by logic that caches activity heartbeat
// payloads for its queries.
type heartbeatSink interface {
	HandleHeartbeat(payload []byte)
}

// interrupter is implemented by logic that wants control back at the
// next suspension point, typically after a cancel or stop signal. When
// it reports true, an in-flight activity is canceled and a durable
// sleep returns early.
type interrupter interface {
	Interrupted() bool
}

// Factory creates a fresh logic instance for one run.
type Factory func() Logic

// Registry maps workflow type names to factories.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Factory)}
}

// Register adds a workflow type. Duplicate registration panics.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[name]; ok {
		panic(fmt.Sprintf("workflow: duplicate registration for %q", name))
	}
	r.m[name] = factory
}

// New instantiates fresh logic for the named type.
func (r *Registry) New(name string) (Logic, bool) {
	r.mu.RLock()
	factory, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// RegisterDefaults registers the built-in workflow types.
func RegisterDefaults(r *Registry) {
	r.Register(TypeGreeting, NewGreeting)
	r.Register(TypeHealthMonitor, NewHealthMonitor)
	r.Register(TypeText2Image, NewText2Image)
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for name := range r.m {
		out = append(out, name)
	}
	return out
}
