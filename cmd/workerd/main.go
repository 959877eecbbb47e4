// Command workerd runs the workflow substrate: the run store, the
// worker loop, and the HTTP bridge for starting, signaling, querying
// and canceling workflows. With ENGINE_URL unset it also hosts the
// execution engine in-process and mounts its task routes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"renderflow/internal/httpapi"
	"renderflow/internal/infra"
	"renderflow/internal/observability"
	"renderflow/pkg/activity"
	"renderflow/pkg/backend"
	"renderflow/pkg/client"
	"renderflow/pkg/engine"
	"renderflow/pkg/schedule"
	"renderflow/pkg/taskstore"
	"renderflow/pkg/worker"
	"renderflow/pkg/workflow"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	var db *gorm.DB
	if cfg.DatabasePath != "" {
		db, err = gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
	}

	var runs workflow.RunStore
	if db != nil {
		store := workflow.NewGormRunStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate run store")
		}
		runs = store
	} else {
		runs = workflow.NewMemoryRunStore()
	}

	metrics := observability.NewMetrics()

	// Task service for the text2image activity: a remote engine when
	// ENGINE_URL is set, otherwise one hosted in this process.
	var (
		taskService activity.TaskService
		eng         *engine.Engine
	)
	if cfg.EngineURL != "" {
		taskService = httpapi.NewEngineClient(cfg.EngineURL)
	} else {
		var tasks taskstore.Store
		if db != nil {
			store := taskstore.NewGormStore(db)
			if err := store.Migrate(context.Background()); err != nil {
				logger.Fatal().Err(err).Msg("failed to migrate task store")
			}
			tasks = store
		} else {
			tasks = taskstore.NewMemoryStore()
		}
		eng = engine.New(tasks, backend.NewSimulator(cfg.StepDelay),
			engine.WithOutputDir(cfg.OutputDir),
			engine.WithExecutionTimeout(cfg.ExecutionTimeout),
			engine.WithJanitorSchedule(schedule.Every(cfg.JanitorInterval)),
		)
		defer eng.Close()
		taskService = &activity.EngineService{Engine: eng}

		events := eng.Events()
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go metrics.Collect(metricsCtx, events)
	}

	activities := activity.NewRegistry()
	activities.Register(activity.GreetName, activity.Greet, activity.DefaultOptions())
	activities.Register(activity.ProbeName,
		activity.NewProbe(activity.NewHTTPProber(10*time.Second)), activity.DefaultOptions())
	activities.Register(activity.Text2ImageName,
		activity.NewText2Image(taskService, 0), activity.DefaultOptions())

	workflows := workflow.NewRegistry()
	workflow.RegisterDefaults(workflows)

	runtime := workflow.NewRuntime(workflows, activities, nil)
	wfClient := client.New(runs, runtime, client.WithQueue(cfg.Queue))

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	wrk := worker.New(runs, runtime,
		worker.WithQueue(cfg.Queue),
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithPollInterval(cfg.WorkerPollInterval),
	)
	go func() {
		if err := wrk.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker stopped")
		}
	}()

	app := &httpapi.App{
		Engine:    eng,
		Client:    wfClient,
		Logger:    logger,
		OutputDir: cfg.OutputDir,
	}
	router := httpapi.NewRouter(app, httpapi.RouterConfig{
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		Metrics:         metrics.Handler(),
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("worker bridge listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("worker stopped")
}
