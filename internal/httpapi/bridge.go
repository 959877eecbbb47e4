package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"renderflow/pkg/core"
	"renderflow/pkg/workflow"
)

type startWorkflowRequest struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input"`
}

type workflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// GenerateWorkflow handles POST /workflows/generate: it starts a
// text2image workflow from a plain generation request.
func (a *App) GenerateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, core.Validation("body", err.Error()))
		return
	}

	id, err := a.Client.StartWorkflow(r.Context(), workflow.TypeText2Image, "",
		workflow.Text2ImageInput{Params: req.Params()})
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusAccepted, workflowResponse{WorkflowID: id, Status: string(workflow.RunPending)})
}

// StartWorkflow handles POST /workflows: the generic start surface for
// any registered workflow type.
func (a *App) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, core.Validation("body", err.Error()))
		return
	}
	if req.Type == "" {
		a.error(w, core.Validation("type", "must not be empty"))
		return
	}

	id, err := a.Client.StartWorkflow(r.Context(), req.Type, req.ID, req.Input)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusAccepted, workflowResponse{WorkflowID: id, Status: string(workflow.RunPending)})
}

// ListWorkflows handles GET /workflows.
func (a *App) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	runs, err := a.Client.List(r.Context())
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"workflows": runs})
}

// WorkflowStatus handles GET /workflows/{id}/status. The response
// carries the durable run state plus, for open workflows that answer
// the get_status query, a live detail snapshot.
func (a *App) WorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.Client.Describe(r.Context(), id)
	if err != nil {
		a.error(w, err)
		return
	}

	resp := map[string]any{
		"workflow_id": run.ID,
		"type":        run.Type,
		"status":      string(run.State),
		"created_at":  run.CreatedAt,
	}
	if run.StartedAt != nil {
		resp["started_at"] = run.StartedAt
	}
	if run.FinishedAt != nil {
		resp["finished_at"] = run.FinishedAt
	}
	if run.ErrorMessage != "" {
		resp["error"] = run.ErrorMessage
		resp["error_kind"] = string(run.ErrorKind)
	}
	if detail, qErr := a.Client.Query(r.Context(), id, "get_status"); qErr == nil {
		resp["detail"] = detail
	}
	a.json(w, http.StatusOK, resp)
}

// WorkflowResult handles GET /workflows/{id}/result.
func (a *App) WorkflowResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	output, err := a.Client.Result(r.Context(), id)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"status":      string(workflow.RunCompleted),
		"result":      json.RawMessage(output),
	})
}

// SignalWorkflow handles POST /workflows/{id}/signal/{name}. The body
// is the raw signal payload.
func (a *App) SignalWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		a.error(w, core.Validation("body", err.Error()))
		return
	}
	if len(payload) == 0 {
		payload = []byte("null")
	}

	if err := a.Client.Signal(r.Context(), id, name, json.RawMessage(payload)); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"workflow_id": id, "signal": name})
}

// QueryWorkflow handles GET /workflows/{id}/query/{name}.
func (a *App) QueryWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	result, err := a.Client.Query(r.Context(), id, name)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"workflow_id": id, "result": result})
}

// CancelWorkflow handles POST /workflows/{id}/cancel.
func (a *App) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Client.Cancel(r.Context(), id); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "cancel_requested"})
}
