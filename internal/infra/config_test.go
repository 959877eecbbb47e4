package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "generated_images", cfg.OutputDir)
	assert.Equal(t, "default", cfg.Queue)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.WorkerPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ExecutionTimeout)
	assert.Equal(t, 20, cfg.RateLimitPerSec)
	assert.Empty(t, cfg.DatabasePath, "empty selects the in-memory stores")
	assert.Empty(t, cfg.EngineURL, "empty runs the engine in-process")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_PATH", "/var/lib/renderflow/db.sqlite")
	t.Setenv("ENGINE_URL", "http://engine:8000")
	t.Setenv("WORKER_CONCURRENCY", "16")
	t.Setenv("STEP_DELAY", "250ms")
	t.Setenv("EXECUTION_TIMEOUT", "2m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/var/lib/renderflow/db.sqlite", cfg.DatabasePath)
	assert.Equal(t, "http://engine:8000", cfg.EngineURL)
	assert.Equal(t, 16, cfg.WorkerConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.StepDelay)
	assert.Equal(t, 2*time.Minute, cfg.ExecutionTimeout)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("STEP_DELAY", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.StepDelay)
}
