// Command engined serves the task execution engine over HTTP: submit a
// generation, poll status and result, cancel, fetch images.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"renderflow/internal/httpapi"
	"renderflow/internal/infra"
	"renderflow/internal/observability"
	"renderflow/pkg/backend"
	"renderflow/pkg/engine"
	"renderflow/pkg/schedule"
	"renderflow/pkg/taskstore"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	var tasks taskstore.Store
	if cfg.DatabasePath != "" {
		db, dbErr := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
		if dbErr != nil {
			logger.Fatal().Err(dbErr).Msg("failed to open database")
		}
		store := taskstore.NewGormStore(db)
		if migErr := store.Migrate(context.Background()); migErr != nil {
			logger.Fatal().Err(migErr).Msg("failed to migrate task store")
		}
		tasks = store
	} else {
		tasks = taskstore.NewMemoryStore()
	}

	eng := engine.New(tasks, backend.NewSimulator(cfg.StepDelay),
		engine.WithOutputDir(cfg.OutputDir),
		engine.WithExecutionTimeout(cfg.ExecutionTimeout),
		engine.WithJanitorSchedule(schedule.Every(cfg.JanitorInterval)),
	)
	defer eng.Close()

	metrics := observability.NewMetrics()
	events := eng.Events()
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go metrics.Collect(metricsCtx, events)

	app := &httpapi.App{
		Engine:    eng,
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
		logger.Info().Msgf("engine listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("engine stopped")
}
