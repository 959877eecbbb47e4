package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/core"
)

// fakeTaskService scripts a task through a sequence of states, one per
// status poll.
type fakeTaskService struct {
	mu        sync.Mutex
	states    []core.TaskState
	polls     int
	submitted string
	canceled  bool
	artifact  *core.Artifact
	failure   *core.TaskError
}

func (f *fakeTaskService) SubmitTask(ctx context.Context, id string, params core.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = id
	return id, nil
}

func (f *fakeTaskService) TaskStatus(ctx context.Context, id string) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.polls
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	f.polls++
	state := f.states[idx]
	task := &core.Task{ID: id, State: state}
	if state == core.StateRunning {
		task.Progress = float64(idx+1) / float64(len(f.states))
	}
	if state == core.StateFailed && f.failure != nil {
		task.ErrorKind = f.failure.Kind
		task.ErrorMessage = f.failure.Message
	}
	return task, nil
}

func (f *fakeTaskService) TaskResult(ctx context.Context, id string) (*core.Artifact, error) {
	if f.artifact == nil {
		return nil, core.ErrResultPending
	}
	return f.artifact, nil
}

func (f *fakeTaskService) CancelTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
	return nil
}

func text2imageInput(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(Text2ImageInput{
		TaskID: "task-xyz",
		Params: core.GenerationParams{Prompt: "a red door", Width: 64, Height: 64, Steps: 4},
	})
	require.NoError(t, err)
	return data
}

func TestText2ImageCompletes(t *testing.T) {
	svc := &fakeTaskService{
		states: []core.TaskState{core.StateRunning, core.StateRunning, core.StateCompleted},
		artifact: &core.Artifact{
			Path:    "out/task-xyz.png",
			Model:   "stable-diffusion-v1-5",
			Seed:    99,
			Elapsed: 1200 * time.Millisecond,
		},
	}
	fn := NewText2Image(svc, time.Millisecond)

	var beats []Text2ImageProgress
	actx := &Context{
		ctx: context.Background(),
		heartbeat: func(payload []byte) {
			var p Text2ImageProgress
			require.NoError(t, json.Unmarshal(payload, &p))
			beats = append(beats, p)
		},
	}

	out, err := fn(actx, text2imageInput(t))
	require.NoError(t, err)

	var result Text2ImageOutput
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "task-xyz", result.TaskID)
	assert.Equal(t, "out/task-xyz.png", result.ImagePath)
	assert.Equal(t, int64(99), result.Seed)
	assert.Equal(t, int64(1200), result.ElapsedMS)

	assert.Equal(t, "task-xyz", svc.submitted)
	require.NotEmpty(t, beats, "each poll heartbeats a progress snapshot")
	assert.Equal(t, "task-xyz", beats[0].TaskID)
}

func TestText2ImageFailureSurfacesTaskError(t *testing.T) {
	svc := &fakeTaskService{
		states:  []core.TaskState{core.StateRunning, core.StateFailed},
		failure: &core.TaskError{Kind: core.KindTransient, Message: "backend unavailable"},
	}
	fn := NewText2Image(svc, time.Millisecond)

	_, err := fn(&Context{ctx: context.Background()}, text2imageInput(t))
	var taskErr *core.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, core.KindTransient, taskErr.Kind)
}

func TestText2ImageCanceledTask(t *testing.T) {
	svc := &fakeTaskService{states: []core.TaskState{core.StateCanceled}}
	fn := NewText2Image(svc, time.Millisecond)

	_, err := fn(&Context{ctx: context.Background()}, text2imageInput(t))
	assert.ErrorIs(t, err, core.ErrTaskCanceled)
}

func TestText2ImageForwardsContextCancel(t *testing.T) {
	svc := &fakeTaskService{states: []core.TaskState{core.StateRunning}}
	fn := NewText2Image(svc, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fn(&Context{ctx: ctx}, text2imageInput(t))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("activity did not observe cancellation")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.canceled, "cancel must be forwarded to the engine")
}

func TestText2ImageRejectsMalformedInput(t *testing.T) {
	fn := NewText2Image(&fakeTaskService{states: []core.TaskState{core.StateCompleted}}, time.Millisecond)
	_, err := fn(&Context{ctx: context.Background()}, []byte("not json"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrTaskCanceled))
}
