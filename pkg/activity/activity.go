// Package activity provides the retryable units of work invoked by
// workflows: a health probe, the greeting call, and the text-to-image
// generation that drives the execution engine. Activities are where all
// non-determinism lives; workflow logic only sees their final output.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Func is an activity implementation. Input and output travel as JSON
// so activity results can be recorded and replayed by the substrate.
type Func func(actx *Context, input []byte) ([]byte, error)

// Options attach the retry and heartbeat policy to a registration.
type Options struct {
	Retry RetryPolicy

	// HeartbeatTimeout cancels the attempt when no heartbeat arrives
	// for this long. Zero disables the watchdog for short activities.
	HeartbeatTimeout time.Duration
}

// DefaultOptions returns the documented default policy.
func DefaultOptions() Options {
	return Options{
		Retry:            DefaultRetryPolicy(),
		HeartbeatTimeout: 30 * time.Second,
	}
}

// Context is passed to activity functions. Heartbeat both resets the
// liveness watchdog and forwards the latest progress snapshot to the
// caller workflow.
type Context struct {
	ctx       context.Context
	heartbeat func(payload []byte)
}

// Context returns the attempt context. It is canceled on a missed
// heartbeat or when the caller workflow cancels the activity.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Heartbeat emits a liveness signal carrying the latest progress.
func (c *Context) Heartbeat(payload any) {
	if c.heartbeat == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.heartbeat(data)
}

// Registration couples an activity function with its policy.
type Registration struct {
	Name    string
	Fn      Func
	Options Options
}

// Registry holds the named activities available to a worker.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Registration)}
}

// Register adds an activity. Registering a duplicate name panics.
func (r *Registry) Register(name string, fn Func, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[name]; ok {
		panic(fmt.Sprintf("activity: duplicate registration for %q", name))
	}
	r.m[name] = Registration{Name: name, Fn: fn, Options: opts}
}

// Get returns a registration by name.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.m[name]
	return reg, ok
}
