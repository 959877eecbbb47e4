package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig tunes the shared middleware stack.
type RouterConfig struct {
	RateLimitPerSec int
	RateLimitBurst  int
	Metrics         http.Handler
}

// NewRouter builds the HTTP surface. Engine routes are mounted when
// app.Engine is set, bridge routes when app.Client is set.
func NewRouter(app *App, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		Logger(app.Logger),
	)
	if cfg.RateLimitPerSec > 0 {
		r.Use(RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))
	}

	r.Get("/healthz", app.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	if app.Engine != nil {
		r.Post("/generate", app.SubmitTask)
		r.Get("/status/{id}", app.TaskStatus)
		r.Get("/result/{id}", app.TaskResult)
		r.Get("/tasks", app.ListTasks)
		r.Delete("/tasks/{id}", app.CancelTask)
		r.Get("/images/{filename}", app.ServeImage)
		r.Get("/models/text2image", app.ListModels)
	}

	if app.Client != nil {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", app.StartWorkflow)
			r.Get("/", app.ListWorkflows)
			r.Post("/generate", app.GenerateWorkflow)
			r.Get("/{id}/status", app.WorkflowStatus)
			r.Get("/{id}/result", app.WorkflowResult)
			r.Get("/{id}/query/{name}", app.QueryWorkflow)
			r.Post("/{id}/signal/{name}", app.SignalWorkflow)
			r.Post("/{id}/cancel", app.CancelWorkflow)
		})
	}

	return r
}
