// Package engine implements the job execution engine: it accepts
// generation requests, owns the task lifecycle, runs generations
// asynchronously against the model backend, and answers non-blocking
// status and result polls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"renderflow/pkg/core"
	"renderflow/pkg/security"
	"renderflow/pkg/taskstore"
)

// Backend is the opaque model-inference boundary. Implementations must
// check the context between coarse steps so cancellation stays
// cooperative.
type Backend interface {
	Generate(ctx context.Context, params core.GenerationParams, onStep func(step, total int)) (*core.Artifact, error)
	Models() []string
}

// Engine coordinates task execution. At most one execution goroutine
// runs per task id, enforced by the store's queued→running transition.
type Engine struct {
	store   taskstore.Store
	backend Backend
	config  Config
	logger  *slog.Logger

	// Cancel funcs of in-flight executions, keyed by task id.
	running   map[string]context.CancelFunc
	runningMu sync.Mutex

	eventSubs []chan core.Event
	eventsMu  sync.RWMutex

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine and starts its liveness janitor. Call Close to
// stop in-flight executions and release resources.
func New(store taskstore.Store, backend Backend, opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:   store,
		backend: backend,
		config:  cfg,
		logger:  cfg.Logger,
		running: make(map[string]context.CancelFunc),
		rootCtx: ctx,
		stop:    cancel,
	}

	e.wg.Add(1)
	go e.runJanitor()

	return e
}

// Close stops the janitor, cancels in-flight executions and waits for
// them to acknowledge.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

// Models returns the backend's model catalog.
func (e *Engine) Models() []string {
	return e.backend.Models()
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	taskID string
}

// WithTaskID sets a caller-chosen task id. Submitting an id that
// already exists returns that id without spawning a second execution.
func WithTaskID(id string) SubmitOption {
	return func(o *submitOptions) { o.taskID = id }
}

// Submit validates the parameters, creates a queued record and
// schedules asynchronous execution. It returns immediately.
func (e *Engine) Submit(ctx context.Context, params core.GenerationParams, opts ...SubmitOption) (string, error) {
	if err := e.validate(params); err != nil {
		return "", err
	}

	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	id := so.taskID
	if id == "" {
		id = uuid.New().String()
	} else if existing, err := e.store.Get(ctx, id); err == nil {
		// Idempotent re-submission: the earlier execution owns the task.
		return existing.ID, nil
	}

	task := &core.Task{
		ID:     id,
		State:  core.StateQueued,
		Params: params,
	}
	if err := e.store.Create(ctx, task); err != nil {
		if errors.Is(err, core.ErrTaskExists) && so.taskID != "" {
			// A concurrent submission with the same id won the create;
			// that execution owns the task.
			return id, nil
		}
		return "", fmt.Errorf("engine: create task: %w", err)
	}
	e.emit(&core.TaskSubmitted{Task: task, Timestamp: time.Now()})

	e.wg.Add(1)
	go e.execute(id, params)

	return id, nil
}

// List returns snapshots of all task records, oldest first.
func (e *Engine) List(ctx context.Context) ([]*core.Task, error) {
	return e.store.List(ctx)
}

// Status returns a non-blocking snapshot of the task record.
func (e *Engine) Status(ctx context.Context, id string) (*core.Task, error) {
	return e.store.Get(ctx, id)
}

// Result returns the completed artifact. Failed tasks return their
// TaskError, canceled tasks core.ErrTaskCanceled, and anything still in
// flight core.ErrResultPending. It never blocks.
func (e *Engine) Result(ctx context.Context, id string) (*core.Artifact, error) {
	task, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch task.State {
	case core.StateCompleted:
		return task.Artifact(), nil
	case core.StateFailed:
		return nil, task.Err()
	case core.StateCanceled:
		return nil, core.ErrTaskCanceled
	}
	return nil, core.ErrResultPending
}

// Cancel requests cancellation. Queued tasks transition directly to
// canceled; running tasks are cancelled cooperatively and transition
// once the execution acknowledges. Terminal tasks are rejected.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	now := time.Now()
	_, err := e.store.Update(ctx, id, func(t *core.Task) error {
		if t.State != core.StateQueued {
			return core.ErrInvalidTransition
		}
		t.State = core.StateCanceled
		t.FinishedAt = &now
		return nil
	})
	if err == nil {
		task, getErr := e.store.Get(ctx, id)
		if getErr == nil {
			e.emit(&core.TaskCanceled{Task: task, Timestamp: now})
		}
		return nil
	}
	if !errors.Is(err, core.ErrInvalidTransition) {
		return err
	}

	// Not queued. If it is running, ask the execution to stop.
	e.runningMu.Lock()
	cancel, ok := e.running[id]
	e.runningMu.Unlock()
	if ok {
		cancel()
		return nil
	}

	task, getErr := e.store.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if task.State.Terminal() {
		return core.ErrInvalidTransition
	}
	return nil
}

// execute is the single execution goroutine for a task id.
func (e *Engine) execute(id string, params core.GenerationParams) {
	defer e.wg.Done()

	// Register the cancel func before the task becomes running, so a
	// Cancel that observes the running state always finds it.
	execCtx, cancel := context.WithCancel(e.rootCtx)
	defer cancel()
	e.runningMu.Lock()
	e.running[id] = cancel
	e.runningMu.Unlock()
	defer func() {
		e.runningMu.Lock()
		delete(e.running, id)
		e.runningMu.Unlock()
	}()

	now := time.Now()
	_, err := e.store.Update(e.rootCtx, id, func(t *core.Task) error {
		if t.State != core.StateQueued {
			return core.ErrInvalidTransition
		}
		t.State = core.StateRunning
		t.StartedAt = &now
		t.LastProgressAt = &now
		return nil
	})
	if err != nil {
		// Canceled while queued, or another execution already owns the id.
		if !errors.Is(err, core.ErrInvalidTransition) {
			e.logger.Error("failed to start task", "task_id", id, "error", err)
		}
		return
	}
	if task, getErr := e.store.Get(e.rootCtx, id); getErr == nil {
		e.emit(&core.TaskStarted{Task: task, Timestamp: now})
	}

	onStep := func(step, total int) {
		e.recordProgress(id, step, total)
	}

	artifact, genErr := e.backend.Generate(execCtx, params, onStep)
	finished := time.Now()

	switch {
	case genErr == nil:
		e.complete(id, artifact, finished)
	case errors.Is(genErr, context.Canceled) && e.rootCtx.Err() == nil:
		e.acknowledgeCancel(id, finished)
	default:
		e.fail(id, core.KindOf(genErr), genErr.Error(), finished)
	}
}

func (e *Engine) recordProgress(id string, step, total int) {
	now := time.Now()
	fraction := float64(step) / float64(total)
	note := fmt.Sprintf("step %d/%d", step, total)

	_, err := e.store.Update(e.rootCtx, id, func(t *core.Task) error {
		if t.State != core.StateRunning {
			return core.ErrInvalidTransition
		}
		if fraction > t.Progress {
			t.Progress = fraction
		}
		t.ProgressNote = note
		t.LastProgressAt = &now
		return nil
	})
	if err != nil {
		// A cancel may have landed between steps; nothing to record.
		if !errors.Is(err, core.ErrInvalidTransition) {
			e.logger.Warn("progress update failed", "task_id", id, "error", err)
		}
		return
	}
	e.emit(&core.TaskProgressed{
		TaskID:    id,
		Progress:  core.Progress{Fraction: fraction, Note: note},
		Timestamp: now,
	})
}

func (e *Engine) complete(id string, artifact *core.Artifact, finished time.Time) {
	if e.config.OutputDir != "" {
		path := filepath.Join(e.config.OutputDir, id+".png")
		if err := os.MkdirAll(e.config.OutputDir, 0o755); err != nil {
			e.logger.Warn("failed to create output dir", "error", err)
		} else if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
			e.logger.Warn("failed to write artifact file", "task_id", id, "error", err)
		} else {
			artifact.Path = path
		}
	}

	task, err := e.store.Update(e.rootCtx, id, func(t *core.Task) error {
		t.State = core.StateCompleted
		t.Progress = 1
		t.ProgressNote = "done"
		t.ResultPath = artifact.Path
		t.ResultData = artifact.Data
		t.ResultModel = artifact.Model
		t.ResultSeed = artifact.Seed
		t.ResultElapsed = artifact.Elapsed
		t.FinishedAt = &finished
		return nil
	})
	if err != nil {
		e.logger.Error("failed to complete task", "task_id", id, "error", err)
		return
	}
	e.emit(&core.TaskCompleted{Task: task, Duration: artifact.Elapsed, Timestamp: finished})
}

func (e *Engine) acknowledgeCancel(id string, finished time.Time) {
	task, err := e.store.Update(e.rootCtx, id, func(t *core.Task) error {
		t.State = core.StateCanceled
		t.FinishedAt = &finished
		return nil
	})
	if err != nil {
		e.logger.Error("failed to acknowledge cancel", "task_id", id, "error", err)
		return
	}
	e.emit(&core.TaskCanceled{Task: task, Timestamp: finished})
}

func (e *Engine) fail(id string, kind core.ErrorKind, msg string, finished time.Time) {
	task, err := e.store.Update(e.rootCtx, id, func(t *core.Task) error {
		t.State = core.StateFailed
		t.ErrorKind = kind
		t.ErrorMessage = security.SanitizeErrorMessage(msg)
		t.FinishedAt = &finished
		return nil
	})
	if err != nil {
		e.logger.Error("failed to fail task", "task_id", id, "error", err)
		return
	}
	e.emit(&core.TaskFailed{Task: task, Error: task.Err(), Timestamp: finished})
}

func (e *Engine) validate(params core.GenerationParams) error {
	if params.Prompt == "" {
		return core.Validation("prompt", "must not be empty")
	}
	if err := security.ValidatePrompt(params.Prompt); err != nil {
		return err
	}
	if err := security.ValidatePrompt(params.NegativePrompt); err != nil {
		return err
	}
	if params.Width < e.config.MinDimension || params.Width > e.config.MaxDimension {
		return core.Validation("width", fmt.Sprintf("must be between %d and %d", e.config.MinDimension, e.config.MaxDimension))
	}
	if params.Height < e.config.MinDimension || params.Height > e.config.MaxDimension {
		return core.Validation("height", fmt.Sprintf("must be between %d and %d", e.config.MinDimension, e.config.MaxDimension))
	}
	if params.Steps <= 0 {
		return core.Validation("steps", "must be greater than zero")
	}
	if params.Steps > e.config.MaxSteps {
		return core.Validation("steps", fmt.Sprintf("must be at most %d", e.config.MaxSteps))
	}
	if params.CFGScale < 0 {
		return core.Validation("cfg_scale", "must not be negative")
	}
	return nil
}

// Events returns a channel receiving engine events. Callers must
// Unsubscribe when done.
func (e *Engine) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	e.eventsMu.Lock()
	e.eventSubs = append(e.eventSubs, ch)
	e.eventsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events.
func (e *Engine) Unsubscribe(ch <-chan core.Event) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	for i, sub := range e.eventSubs {
		if sub == ch {
			e.eventSubs = append(e.eventSubs[:i], e.eventSubs[i+1:]...)
			return
		}
	}
}

func (e *Engine) emit(ev core.Event) {
	e.eventsMu.RLock()
	subs := make([]chan core.Event, len(e.eventSubs))
	copy(subs, e.eventSubs)
	e.eventsMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Drop rather than block on slow consumers.
		}
	}
}
