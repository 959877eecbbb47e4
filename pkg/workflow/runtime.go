package workflow

import (
	"log/slog"
	"sync"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// Runtime is the live instance registry shared by clients and workers.
// Clients route signals and queries through it; workers attach to a
// dequeued run and drive its instance. Terminal instances are retained
// so their queries stay answerable.
type Runtime struct {
	workflows  *Registry
	activities *activity.Registry
	logger     *slog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRuntime wires a runtime over the given registries.
func NewRuntime(workflows *Registry, activities *activity.Registry, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		workflows:  workflows,
		activities: activities,
		logger:     logger,
		instances:  make(map[string]*Instance),
	}
}

// Create instantiates fresh logic for a new run. An open instance under
// the same id is a conflict; a closed one is superseded.
func (r *Runtime) Create(id, workflowType string) (*Instance, error) {
	logic, ok := r.workflows.New(workflowType)
	if !ok {
		return nil, core.Validation("workflow_type", "unknown workflow type "+workflowType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, found := r.instances[id]; found {
		select {
		case <-existing.Done():
		default:
			return nil, core.ErrWorkflowIDInUse
		}
	}
	inst := NewInstance(id, workflowType, logic, r.activities, r.logger)
	r.instances[id] = inst
	return inst, nil
}

// Get returns the live instance for the id, if any.
func (r *Runtime) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Attach returns the instance for a dequeued run, recreating it when
// the run was enqueued by another (or a previous) process.
func (r *Runtime) Attach(run *Run) (*Instance, error) {
	r.mu.Lock()
	if inst, ok := r.instances[run.ID]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	return r.Create(run.ID, run.Type)
}

// Discard removes an instance whose run was never persisted, rolling
// back a failed start.
func (r *Runtime) Discard(id string) {
	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
}

// Evict drops a terminal instance from the registry. Open instances are
// kept; evicting them would strand their signal routing.
func (r *Runtime) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return false
	}
	select {
	case <-inst.Done():
		delete(r.instances, id)
		return true
	default:
		return false
	}
}
