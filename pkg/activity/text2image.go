package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"renderflow/pkg/core"
)

// Text2ImageName is the registry name of the text-to-image activity.
const Text2ImageName = "text2image"

// TaskService is the engine surface the text-to-image activity drives.
// It is satisfied by the in-process engine adapter and by the HTTP
// client of a remote engine.
type TaskService interface {
	// SubmitTask creates (or re-attaches to) the task with the given id.
	SubmitTask(ctx context.Context, id string, params core.GenerationParams) (string, error)
	TaskStatus(ctx context.Context, id string) (*core.Task, error)
	TaskResult(ctx context.Context, id string) (*core.Artifact, error)
	CancelTask(ctx context.Context, id string) error
}

// Text2ImageInput carries the generation request plus the task id the
// caller workflow derived from its own id. Re-invocations after a
// timeout re-attach to the same task instead of spawning a second one.
type Text2ImageInput struct {
	TaskID string                `json:"task_id"`
	Params core.GenerationParams `json:"params"`
}

// Text2ImageOutput is the terminal result of a generation.
type Text2ImageOutput struct {
	TaskID    string `json:"task_id"`
	ImagePath string `json:"image_path,omitempty"`
	Model     string `json:"model_version"`
	Seed      int64  `json:"seed"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Text2ImageProgress is the heartbeat payload, answering the caller
// workflow's status query while the generation is still in flight.
type Text2ImageProgress struct {
	TaskID    string         `json:"task_id"`
	State     core.TaskState `json:"state"`
	Fraction  float64        `json:"fraction"`
	Note      string         `json:"note"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// NewText2Image builds the text-to-image activity. It submits to the
// task service, then polls to completion, heartbeating each progress
// snapshot. When the attempt context is canceled it forwards a
// best-effort cancel to the engine before returning.
func NewText2Image(svc TaskService, pollInterval time.Duration) Func {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}

	return func(actx *Context, input []byte) ([]byte, error) {
		var in Text2ImageInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("text2image: decode input: %w", err)
		}

		id, err := svc.SubmitTask(actx.Context(), in.TaskID, in.Params)
		if err != nil {
			return nil, err
		}
		started := time.Now()

		for {
			select {
			case <-actx.Context().Done():
				// Forward cancellation to the engine outside the dead context.
				cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = svc.CancelTask(cancelCtx, id)
				cancel()
				return nil, actx.Context().Err()
			case <-time.After(pollInterval):
			}

			task, statusErr := svc.TaskStatus(actx.Context(), id)
			if statusErr != nil {
				if errors.Is(statusErr, core.ErrNotFound) {
					return nil, statusErr
				}
				return nil, core.Transient(statusErr)
			}

			actx.Heartbeat(Text2ImageProgress{
				TaskID:    id,
				State:     task.State,
				Fraction:  task.Progress,
				Note:      task.ProgressNote,
				ElapsedMS: time.Since(started).Milliseconds(),
			})

			switch task.State {
			case core.StateCompleted:
				artifact, resErr := svc.TaskResult(actx.Context(), id)
				if resErr != nil {
					return nil, core.Transient(resErr)
				}
				return json.Marshal(Text2ImageOutput{
					TaskID:    id,
					ImagePath: artifact.Path,
					Model:     artifact.Model,
					Seed:      artifact.Seed,
					ElapsedMS: artifact.Elapsed.Milliseconds(),
				})
			case core.StateFailed:
				return nil, task.Err()
			case core.StateCanceled:
				return nil, core.ErrTaskCanceled
			}
		}
	}
}
