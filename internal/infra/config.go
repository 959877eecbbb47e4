// Package infra holds the service-level plumbing shared by the
// binaries: configuration, logging and the HTTP server wrapper.
package infra

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents service configuration loaded from environment
// variables.
type Config struct {
	AppEnv string
	Port   string

	// DatabasePath is the sqlite file backing the task and run stores.
	// Empty selects the in-memory stores.
	DatabasePath string

	// OutputDir receives generated images.
	OutputDir string

	// EngineURL points the bridge at a remote engine. Empty runs the
	// engine in-process.
	EngineURL string

	Queue              string
	WorkerConcurrency  int
	WorkerPollInterval time.Duration

	// StepDelay paces the simulated backend.
	StepDelay time.Duration

	ExecutionTimeout time.Duration
	JanitorInterval  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	RateLimitPerSec int
	RateLimitBurst  int
}

// LoadConfig reads environment variables, consulting .env files when
// present, and applies defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8000"),
		DatabasePath:       os.Getenv("DATABASE_PATH"),
		OutputDir:          getEnv("OUTPUT_DIR", "generated_images"),
		EngineURL:          os.Getenv("ENGINE_URL"),
		Queue:              getEnv("QUEUE", "default"),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 100*time.Millisecond),
		StepDelay:          getEnvDuration("STEP_DELAY", 100*time.Millisecond),
		ExecutionTimeout:   getEnvDuration("EXECUTION_TIMEOUT", 10*time.Minute),
		JanitorInterval:    getEnvDuration("JANITOR_INTERVAL", 30*time.Second),
		HTTPReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:    getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		RateLimitPerSec:    getEnvInt("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
