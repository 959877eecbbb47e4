// Package renderflow provides a durable workflow substrate for
// GPU-bound image generation: workflows with signals and queries,
// retryable heartbeating activities, and a task execution engine that
// drives the model backend.
//
// This is the main package users should import. It re-exports the
// public types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Stores and registries
//	db, _ := gorm.Open(sqlite.Open("renderflow.db"), &gorm.Config{})
//	sys, _ := renderflow.NewSystem(renderflow.SystemConfig{DB: db})
//
//	// Serve workflows
//	go sys.Worker.Start(ctx)
//
//	// Start a generation
//	id, _ := sys.Client.StartWorkflow(ctx, renderflow.TypeText2Image, "",
//	    renderflow.Text2ImageWorkflowInput{Params: params})
//
//	// Watch it
//	status, _ := sys.Client.Query(ctx, id, "get_status")
package renderflow

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"renderflow/pkg/activity"
	"renderflow/pkg/backend"
	"renderflow/pkg/client"
	"renderflow/pkg/core"
	"renderflow/pkg/engine"
	"renderflow/pkg/schedule"
	"renderflow/pkg/taskstore"
	"renderflow/pkg/worker"
	"renderflow/pkg/workflow"
)

// Re-exported core types.
type (
	// Task is the durable record of one generation task.
	Task = core.Task

	// TaskState is the lifecycle state of a task.
	TaskState = core.TaskState

	// GenerationParams describe one text-to-image request.
	GenerationParams = core.GenerationParams

	// Artifact is the output of a completed generation.
	Artifact = core.Artifact

	// TaskError carries the error taxonomy kind and message of a failed
	// task.
	TaskError = core.TaskError

	// Event is the interface of all engine events.
	Event = core.Event

	// Engine coordinates task execution against the model backend.
	Engine = engine.Engine

	// Backend is the model-inference boundary.
	Backend = engine.Backend

	// Simulator is the built-in deterministic backend.
	Simulator = backend.Simulator

	// Store persists task records.
	Store = taskstore.Store

	// Logic is the contract of workflow state machines.
	Logic = workflow.Logic

	// Run is the durable record of one workflow execution.
	Run = workflow.Run

	// RunStore persists workflow runs.
	RunStore = workflow.RunStore

	// Runtime routes signals and queries to live workflow instances.
	Runtime = workflow.Runtime

	// Client starts, signals, queries and cancels workflows.
	Client = client.Client

	// Worker drives dequeued workflow runs.
	Worker = worker.Worker

	// Schedule computes the next firing time of a recurring job.
	Schedule = schedule.Schedule

	// Text2ImageWorkflowInput starts a text2image workflow.
	Text2ImageWorkflowInput = workflow.Text2ImageInput

	// GreetingInput starts a greeting workflow.
	GreetingInput = workflow.GreetingInput

	// HealthMonitorInput starts a health-monitor workflow.
	HealthMonitorInput = workflow.HealthMonitorInput
)

// Workflow type names.
const (
	TypeGreeting      = workflow.TypeGreeting
	TypeHealthMonitor = workflow.TypeHealthMonitor
	TypeText2Image    = workflow.TypeText2Image
)

// Task lifecycle states.
const (
	StateQueued    = core.StateQueued
	StateRunning   = core.StateRunning
	StateCompleted = core.StateCompleted
	StateFailed    = core.StateFailed
	StateCanceled  = core.StateCanceled
)

// Shared sentinel errors.
var (
	ErrNotFound        = core.ErrNotFound
	ErrTaskExists      = core.ErrTaskExists
	ErrResultPending   = core.ErrResultPending
	ErrTaskCanceled    = core.ErrTaskCanceled
	ErrWorkflowClosed  = core.ErrWorkflowClosed
	ErrWorkflowIDInUse = core.ErrWorkflowIDInUse
)

// Schedule constructors.
var (
	Every  = schedule.Every
	Daily  = schedule.Daily
	Weekly = schedule.Weekly
	Cron   = schedule.Cron
)

// System bundles a fully wired in-process deployment: engine, workflow
// runtime, client and worker sharing one set of stores.
type System struct {
	Engine     *engine.Engine
	Tasks      taskstore.Store
	Runs       workflow.RunStore
	Runtime    *workflow.Runtime
	Client     *client.Client
	Worker     *worker.Worker
	Activities *activity.Registry
	Workflows  *workflow.Registry
}

// SystemConfig tunes NewSystem. The zero value yields an in-memory
// system with the simulated backend.
type SystemConfig struct {
	// DB selects the gorm-backed stores. Nil keeps everything in
	// memory.
	DB *gorm.DB

	// Backend overrides the simulated model backend.
	Backend engine.Backend

	// OutputDir receives generated images.
	OutputDir string

	// StepDelay paces the simulated backend.
	StepDelay time.Duration

	Queue       string
	Concurrency int
	Logger      *slog.Logger

	EngineOptions []engine.Option
}

// NewSystem wires the default single-process deployment.
func NewSystem(cfg SystemConfig) (*System, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}

	var (
		tasks taskstore.Store
		runs  workflow.RunStore
	)
	if cfg.DB != nil {
		ctx := context.Background()
		gormTasks := taskstore.NewGormStore(cfg.DB)
		if err := gormTasks.Migrate(ctx); err != nil {
			return nil, err
		}
		gormRuns := workflow.NewGormRunStore(cfg.DB)
		if err := gormRuns.Migrate(ctx); err != nil {
			return nil, err
		}
		tasks, runs = gormTasks, gormRuns
	} else {
		tasks = taskstore.NewMemoryStore()
		runs = workflow.NewMemoryRunStore()
	}

	be := cfg.Backend
	if be == nil {
		stepDelay := cfg.StepDelay
		if stepDelay == 0 {
			stepDelay = 100 * time.Millisecond
		}
		be = backend.NewSimulator(stepDelay)
	}

	engineOpts := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithOutputDir(cfg.OutputDir),
	}, cfg.EngineOptions...)
	eng := engine.New(tasks, be, engineOpts...)

	activities := activity.NewRegistry()
	activities.Register(activity.GreetName, activity.Greet, activity.DefaultOptions())
	activities.Register(activity.ProbeName,
		activity.NewProbe(activity.NewHTTPProber(10*time.Second)), activity.DefaultOptions())
	activities.Register(activity.Text2ImageName,
		activity.NewText2Image(&activity.EngineService{Engine: eng}, 0), activity.DefaultOptions())

	workflows := workflow.NewRegistry()
	workflow.RegisterDefaults(workflows)

	runtime := workflow.NewRuntime(workflows, activities, logger)

	return &System{
		Engine:     eng,
		Tasks:      tasks,
		Runs:       runs,
		Runtime:    runtime,
		Client:     client.New(runs, runtime, client.WithQueue(queue), client.WithLogger(logger)),
		Worker: worker.New(runs, runtime,
			worker.WithQueue(queue),
			worker.WithConcurrency(concurrency),
			worker.WithLogger(logger)),
		Activities: activities,
		Workflows:  workflows,
	}, nil
}

// Close stops the engine and its in-flight executions.
func (s *System) Close() {
	s.Engine.Close()
}
