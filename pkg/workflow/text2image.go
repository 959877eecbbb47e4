package workflow

import (
	"encoding/json"
	"fmt"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// TypeText2Image names the image-generation workflow. It submits one
// generation task to the execution engine and tracks it to a terminal
// state, caching activity heartbeats so get_status answers without
// touching the engine.
const TypeText2Image = "text2image"

// Phases of a text-to-image run, surfaced by the get_status query.
const (
	PhaseInit      = "init"
	PhaseSubmitted = "submitted"
	PhasePolling   = "polling"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseCanceled  = "canceled"
)

// Text2ImageInput starts a generation run.
type Text2ImageInput struct {
	Params core.GenerationParams `json:"params"`
}

// Text2ImageStatus answers the get_status query.
type Text2ImageStatus struct {
	Prompt    string  `json:"prompt"`
	Phase     string  `json:"phase"`
	TaskID    string  `json:"task_id,omitempty"`
	Fraction  float64 `json:"fraction"`
	Note      string  `json:"note,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// Text2ImageResult is the terminal output of a generation run.
type Text2ImageResult struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id"`
	ImagePath string `json:"image_path,omitempty"`
	Model     string `json:"model_version,omitempty"`
	Seed      int64  `json:"seed,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// Text2Image drives one generation task. The cancel signal requests a
// graceful stop: the in-flight activity is canceled, which forwards the
// cancellation to the engine. The update_progress signal lets an
// external watcher inject a progress snapshot.
type Text2Image struct {
	prompt   string
	phase    string
	taskID   string
	progress activity.Text2ImageProgress
	canceled bool
}

// NewText2Image is the factory registered under TypeText2Image.
func NewText2Image() Logic {
	return &Text2Image{phase: PhaseInit}
}

func (w *Text2Image) Run(wctx *Context, input []byte) ([]byte, error) {
	var in Text2ImageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, core.Validation("input", err.Error())
	}

	// Deriving the task id from the workflow id keeps re-invocation
	// idempotent: a retried run re-attaches to the same engine task.
	taskID := "task-" + wctx.WorkflowID()
	wctx.Update(func() {
		w.prompt = in.Params.Prompt
		w.taskID = taskID
		w.phase = PhaseSubmitted
	})

	wctx.Update(func() { w.phase = PhasePolling })
	raw, err := wctx.Execute(activity.Text2ImageName, activity.Text2ImageInput{
		TaskID: taskID,
		Params: in.Params,
	})
	if err != nil {
		if IsCancellation(err) {
			wctx.Update(func() { w.phase = PhaseCanceled })
			return json.Marshal(Text2ImageResult{Status: PhaseCanceled, TaskID: taskID})
		}
		wctx.Update(func() { w.phase = PhaseFailed })
		return nil, err
	}

	var out activity.Text2ImageOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		wctx.Update(func() { w.phase = PhaseFailed })
		return nil, err
	}

	wctx.Update(func() {
		w.phase = PhaseCompleted
		w.progress.Fraction = 1
	})
	return json.Marshal(Text2ImageResult{
		Status:    PhaseCompleted,
		TaskID:    out.TaskID,
		ImagePath: out.ImagePath,
		Model:     out.Model,
		Seed:      out.Seed,
		ElapsedMS: out.ElapsedMS,
	})
}

func (w *Text2Image) HandleSignal(name string, payload []byte) error {
	switch name {
	case "cancel":
		w.canceled = true
		return nil
	case "update_progress":
		var p activity.Text2ImageProgress
		if err := json.Unmarshal(payload, &p); err != nil {
			return core.Validation("payload", err.Error())
		}
		w.applyProgress(p)
		return nil
	default:
		return fmt.Errorf("%w: %s", core.ErrUnknownSignal, name)
	}
}

func (w *Text2Image) HandleQuery(name string) (any, error) {
	switch name {
	case "get_status":
		return Text2ImageStatus{
			Prompt:    w.prompt,
			Phase:     w.phase,
			TaskID:    w.taskID,
			Fraction:  w.progress.Fraction,
			Note:      w.progress.Note,
			ElapsedMS: w.progress.ElapsedMS,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownQuery, name)
	}
}

// HandleHeartbeat caches the latest activity progress snapshot.
func (w *Text2Image) HandleHeartbeat(payload []byte) {
	var p activity.Text2ImageProgress
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	w.applyProgress(p)
}

// Interrupted cancels the in-flight activity once a cancel signal has
// been applied.
func (w *Text2Image) Interrupted() bool { return w.canceled }

// applyProgress keeps the cached fraction monotonic.
func (w *Text2Image) applyProgress(p activity.Text2ImageProgress) {
	if p.Fraction < w.progress.Fraction {
		p.Fraction = w.progress.Fraction
	}
	w.progress = p
}
