// Package worker polls the run store and drives workflow instances to
// their terminal state. Multiple workers can share one store; the
// dequeue lock keeps each run on exactly one of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
	"renderflow/pkg/security"
	"renderflow/pkg/workflow"
)

// Worker executes workflow runs from a single named queue.
type Worker struct {
	runs    workflow.RunStore
	runtime *workflow.Runtime
	config  Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Config tunes a worker.
type Config struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	WorkerID     string
	Logger       *slog.Logger

	// LockExtendInterval is how often the lock of an in-flight run is
	// extended. It must stay well inside workflow.LockDuration or a
	// long-running workflow gets reclaimed as stale mid-flight.
	LockExtendInterval time.Duration

	// StaleSweepInterval is how often expired locks on the queue are
	// released back to pending.
	StaleSweepInterval time.Duration
}

// Option mutates a worker config.
type Option func(*Config)

// WithQueue sets the queue the worker polls.
func WithQueue(name string) Option {
	return func(c *Config) { c.Queue = name }
}

// WithConcurrency sets how many runs execute at once.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithPollInterval sets the dequeue poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithWorkerID overrides the generated worker id.
func WithWorkerID(id string) Option {
	return func(c *Config) { c.WorkerID = id }
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithLockExtendInterval sets the lock extension cadence for in-flight
// runs.
func WithLockExtendInterval(d time.Duration) Option {
	return func(c *Config) { c.LockExtendInterval = d }
}

// WithStaleSweepInterval sets how often expired run locks are released.
func WithStaleSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.StaleSweepInterval = d }
}

// New creates a worker over the shared run store and runtime.
func New(runs workflow.RunStore, runtime *workflow.Runtime, opts ...Option) *Worker {
	config := Config{
		Queue:              "default",
		Concurrency:        4,
		PollInterval:       100 * time.Millisecond,
		WorkerID:           uuid.New().String(),
		LockExtendInterval: workflow.LockDuration / 2,
		StaleSweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&config)
	}
	config.Concurrency = security.ClampConcurrency(config.Concurrency)
	if config.LockExtendInterval <= 0 {
		config.LockExtendInterval = workflow.LockDuration / 2
	}
	if config.StaleSweepInterval <= 0 {
		config.StaleSweepInterval = time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runs:    runs,
		runtime: runtime,
		config:  config,
		logger:  logger.With("worker_id", config.WorkerID, "queue", config.Queue),
	}
}

// Start polls for runs and executes them. It blocks until the context
// is canceled, then waits for in-flight runs to settle.
func (w *Worker) Start(ctx context.Context) error {
	runsChan := make(chan *workflow.Run, w.config.Concurrency)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, runsChan)
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(w.config.StaleSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			close(runsChan)
			w.wg.Wait()
			return ctx.Err()
		case <-sweep.C:
			released, err := w.runs.ReleaseStaleLocks(ctx, w.config.Queue)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("stale lock sweep failed", "error", err)
				}
				continue
			}
			if released > 0 {
				w.logger.Warn("released stale run locks", "count", released)
			}
		case <-ticker.C:
			run, err := w.runs.Dequeue(ctx, w.config.Queue, w.config.WorkerID)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("dequeue failed", "error", err)
				}
				continue
			}
			if run == nil {
				continue
			}
			select {
			case runsChan <- run:
			case <-ctx.Done():
			}
		}
	}
}

func (w *Worker) processLoop(ctx context.Context, runs <-chan *workflow.Run) {
	defer w.wg.Done()
	for run := range runs {
		w.processRun(ctx, run)
	}
}

func (w *Worker) processRun(ctx context.Context, run *workflow.Run) {
	started := time.Now()
	logger := w.logger.With("workflow_id", run.ID, "workflow_type", run.Type)

	inst, err := w.runtime.Attach(run)
	if err != nil {
		logger.Error("attach failed", "error", err)
		w.fail(ctx, run, core.KindValidation, err.Error())
		return
	}

	// Keep the claim alive while the workflow runs, so a durable sleep
	// longer than the lock window is not reclaimed as stale.
	extendCtx, stopExtending := context.WithCancel(ctx)
	go w.extendLock(extendCtx, run.ID)

	output, runErr := w.execute(ctx, inst, run.Input)
	stopExtending()
	switch {
	case runErr == nil:
		if err := w.runs.Complete(ctx, run.ID, w.config.WorkerID, output); err != nil {
			logger.Error("complete failed", "error", err)
			return
		}
		logger.Info("workflow completed", "duration", time.Since(started))
	case workflow.IsCancellation(runErr):
		if err := w.runs.Cancel(ctx, run.ID, w.config.WorkerID); err != nil {
			logger.Error("cancel record failed", "error", err)
			return
		}
		logger.Info("workflow canceled", "duration", time.Since(started))
	default:
		kind := core.KindOf(runErr)
		if errors.Is(runErr, activity.ErrHeartbeatTimeout) {
			kind = core.KindActivityTimeout
		}
		w.fail(ctx, run, kind, runErr.Error())
		logger.Warn("workflow failed", "error", runErr, "duration", time.Since(started))
	}
}

// extendLock periodically pushes the run's claim deadline forward until
// the context is canceled.
func (w *Worker) extendLock(ctx context.Context, id string) {
	ticker := time.NewTicker(w.config.LockExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runs.ExtendLock(ctx, id, w.config.WorkerID); err != nil {
				w.logger.Warn("lock extension failed", "workflow_id", id, "error", err)
			}
		}
	}
}

// execute drives one instance, converting a panic in workflow logic
// into a failed run instead of taking the worker down.
func (w *Worker) execute(ctx context.Context, inst *workflow.Instance, input []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return inst.Run(ctx, input)
}

func (w *Worker) fail(ctx context.Context, run *workflow.Run, kind core.ErrorKind, message string) {
	message = security.SanitizeErrorMessage(message)
	if err := w.runs.Fail(ctx, run.ID, w.config.WorkerID, kind, message); err != nil {
		w.logger.Error("fail record failed", "workflow_id", run.ID, "error", err)
	}
}
