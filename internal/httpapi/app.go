// Package httpapi exposes the engine's task service and the workflow
// bridge over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"renderflow/pkg/client"
	"renderflow/pkg/core"
	"renderflow/pkg/engine"
)

// DefaultNegativePrompt is applied when a generation request leaves the
// negative prompt empty.
const DefaultNegativePrompt = "blurry, distorted, low quality, low resolution, poorly drawn, " +
	"bad anatomy, disfigured, deformed, extra limbs, mutated, watermark, text, signature, " +
	"nsfw, grainy, noisy, overexposed, underexposed, ugly"

// App is the handler container. Engine handlers need Engine; bridge
// handlers need Client. A deployment may wire either or both.
type App struct {
	Engine    *engine.Engine
	Client    *client.Client
	Logger    zerolog.Logger
	OutputDir string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (a *App) error(w http.ResponseWriter, err error) {
	var (
		ve *core.ValidationError
		te *core.TaskError
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, core.ErrUnknownSignal),
		errors.Is(err, core.ErrUnknownQuery):
		code = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, core.ErrWorkflowIDInUse),
		errors.Is(err, core.ErrTaskExists),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrWorkflowClosed):
		code = http.StatusConflict
	case errors.Is(err, core.ErrResultPending):
		code = http.StatusAccepted
	case errors.Is(err, core.ErrTaskCanceled):
		code = http.StatusGone
	case errors.As(err, &te):
		// A task that failed during execution is an expected outcome,
		// not a server fault.
		a.json(w, http.StatusUnprocessableEntity, errorResponse{
			Error: te.Message,
			Kind:  string(te.Kind),
		})
		return
	}
	if code == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Msg("request failed")
	}
	a.json(w, code, errorResponse{Error: err.Error()})
}

// GenerationRequest is the wire form of a generation submission, shared
// by the engine and bridge surfaces.
type GenerationRequest struct {
	// TaskID lets a caller pin the task id for idempotent
	// re-submission. Only the engine surface honors it.
	TaskID string `json:"task_id,omitempty"`

	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           *int64  `json:"seed"`
}

// Params applies the documented defaults. A missing seed means "pick a
// random one".
func (r *GenerationRequest) Params() core.GenerationParams {
	p := core.GenerationParams{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Model:          r.Model,
		Width:          r.Width,
		Height:         r.Height,
		Steps:          r.Steps,
		CFGScale:       r.CFGScale,
		Seed:           -1,
	}
	if p.NegativePrompt == "" {
		p.NegativePrompt = DefaultNegativePrompt
	}
	if p.Width == 0 {
		p.Width = 512
	}
	if p.Height == 0 {
		p.Height = 512
	}
	if p.Steps == 0 {
		p.Steps = 20
	}
	if p.CFGScale == 0 {
		p.CFGScale = 7.5
	}
	if r.Seed != nil {
		p.Seed = *r.Seed
	}
	return p
}
