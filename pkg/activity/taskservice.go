package activity

import (
	"context"

	"renderflow/pkg/core"
	"renderflow/pkg/engine"
)

// EngineService adapts the in-process engine to the TaskService
// contract used by the text-to-image activity.
type EngineService struct {
	Engine *engine.Engine
}

func (s *EngineService) SubmitTask(ctx context.Context, id string, params core.GenerationParams) (string, error) {
	if id == "" {
		return s.Engine.Submit(ctx, params)
	}
	return s.Engine.Submit(ctx, params, engine.WithTaskID(id))
}

func (s *EngineService) TaskStatus(ctx context.Context, id string) (*core.Task, error) {
	return s.Engine.Status(ctx, id)
}

func (s *EngineService) TaskResult(ctx context.Context, id string) (*core.Artifact, error) {
	return s.Engine.Result(ctx, id)
}

func (s *EngineService) CancelTask(ctx context.Context, id string) error {
	return s.Engine.Cancel(ctx, id)
}
