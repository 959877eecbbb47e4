package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"renderflow/pkg/core"
	"renderflow/pkg/engine"
)

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type taskStatusResponse struct {
	TaskID     string     `json:"task_id"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type taskResultResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	ImagePath string `json:"image_path,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Model     string `json:"model_version"`
	Seed      int64  `json:"seed"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// SubmitTask handles POST /generate.
func (a *App) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, core.Validation("body", err.Error()))
		return
	}

	var opts []engine.SubmitOption
	if req.TaskID != "" {
		opts = append(opts, engine.WithTaskID(req.TaskID))
	}
	id, err := a.Engine.Submit(r.Context(), req.Params(), opts...)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{TaskID: id, Status: string(core.StateQueued)})
}

// TaskStatus handles GET /status/{id}.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := a.Engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, err)
		return
	}

	resp := taskStatusResponse{
		TaskID:     task.ID,
		Status:     string(task.State),
		Progress:   task.Progress,
		Note:       task.ProgressNote,
		CreatedAt:  task.CreatedAt,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
	}
	if taskErr := task.Err(); taskErr != nil {
		resp.ErrorKind = string(taskErr.Kind)
		resp.Error = taskErr.Message
	}
	a.json(w, http.StatusOK, resp)
}

// TaskResult handles GET /result/{id}.
func (a *App) TaskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifact, err := a.Engine.Result(r.Context(), id)
	if err != nil {
		a.error(w, err)
		return
	}

	resp := taskResultResponse{
		TaskID:    id,
		Status:    string(core.StateCompleted),
		ImagePath: artifact.Path,
		Model:     artifact.Model,
		Seed:      artifact.Seed,
		ElapsedMS: artifact.Elapsed.Milliseconds(),
	}
	if artifact.Path != "" {
		resp.ImageURL = "/images/" + filepath.Base(artifact.Path)
	}
	a.json(w, http.StatusOK, resp)
}

// CancelTask handles DELETE /tasks/{id}.
func (a *App) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Engine.Cancel(r.Context(), id); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, submitResponse{TaskID: id, Status: string(core.StateCanceled)})
}

// ListTasks handles GET /tasks.
func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.Engine.List(r.Context())
	if err != nil {
		a.error(w, err)
		return
	}

	out := make([]taskStatusResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskStatusResponse{
			TaskID:     task.ID,
			Status:     string(task.State),
			Progress:   task.Progress,
			Note:       task.ProgressNote,
			CreatedAt:  task.CreatedAt,
			StartedAt:  task.StartedAt,
			FinishedAt: task.FinishedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"tasks": out})
}

// ServeImage handles GET /images/{filename}.
func (a *App) ServeImage(w http.ResponseWriter, r *http.Request) {
	// Base strips any path traversal from the parameter.
	name := filepath.Base(chi.URLParam(r, "filename"))
	http.ServeFile(w, r, filepath.Join(a.OutputDir, name))
}

// ListModels handles GET /models/text2image.
func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models := a.Engine.Models()
	resp := map[string]any{"models": models}
	if len(models) > 0 {
		resp["default"] = models[0]
	}
	a.json(w, http.StatusOK, resp)
}

// Health handles GET /healthz.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
