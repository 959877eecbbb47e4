package client

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
	"renderflow/pkg/worker"
	"renderflow/pkg/workflow"
)

// env is a full single-process substrate: client, worker, shared
// runtime and in-memory run store.
type env struct {
	client *Client
	runs   workflow.RunStore
}

func startEnv(t *testing.T) *env {
	t.Helper()

	activities := activity.NewRegistry()
	activities.Register(activity.GreetName, activity.Greet, activity.DefaultOptions())

	workflows := workflow.NewRegistry()
	workflow.RegisterDefaults(workflows)

	runs := workflow.NewMemoryRunStore()
	runtime := workflow.NewRuntime(workflows, activities, nil)

	w := worker.New(runs, runtime, worker.WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &env{client: New(runs, runtime), runs: runs}
}

func TestStartWorkflowGeneratesID(t *testing.T) {
	e := startEnv(t)

	id, err := e.client.StartWorkflow(context.Background(), workflow.TypeGreeting, "", workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "greeting-"))
	assert.Len(t, strings.TrimPrefix(id, "greeting-"), 8)
}

func TestStartWorkflowValidatesID(t *testing.T) {
	e := startEnv(t)

	_, err := e.client.StartWorkflow(context.Background(), workflow.TypeGreeting, "bad id with spaces", workflow.GreetingInput{Name: "Ada"})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestStartWorkflowRejectsOpenDuplicate(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	// health-monitor stays open until stopped.
	input := workflow.HealthMonitorInput{CycleIntervalMS: time.Hour.Milliseconds()}
	id, err := e.client.StartWorkflow(ctx, workflow.TypeHealthMonitor, "monitor-1", input)
	require.NoError(t, err)

	_, err = e.client.StartWorkflow(ctx, workflow.TypeHealthMonitor, "monitor-1", input)
	assert.ErrorIs(t, err, core.ErrWorkflowIDInUse)

	require.NoError(t, e.client.Signal(ctx, id, "stop", nil))
	_, err = e.client.Await(ctx, id)
	require.NoError(t, err)

	// Once closed, the id is free again.
	_, err = e.client.StartWorkflow(ctx, workflow.TypeHealthMonitor, "monitor-1", workflow.HealthMonitorInput{MaxCycles: 1})
	assert.NoError(t, err)
}

func TestAwaitReturnsResult(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	id, err := e.client.StartWorkflow(ctx, workflow.TypeGreeting, "", workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)

	out, err := e.client.Await(ctx, id)
	require.NoError(t, err)

	var result workflow.GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada!", result.Greeting)
}

func TestSignalBeforeWorkerPickup(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	id, err := e.client.StartWorkflow(ctx, workflow.TypeGreeting, "", workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	// May land before or after pickup; either way it precedes the result.
	require.NoError(t, e.client.Signal(ctx, id, "set_suffix", "?!"))

	out, err := e.client.Await(ctx, id)
	require.NoError(t, err)

	var result workflow.GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada?!", result.Greeting)
}

func TestQueryAndDescribe(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	id, err := e.client.StartWorkflow(ctx, workflow.TypeGreeting, "", workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	_, err = e.client.Await(ctx, id)
	require.NoError(t, err)

	state, err := e.client.Query(ctx, id, "get_state")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", state)

	run, err := e.client.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCompleted, run.State)

	runs, err := e.client.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestResultStates(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	_, err := e.client.Result(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	input := workflow.HealthMonitorInput{CycleIntervalMS: time.Hour.Milliseconds()}
	id, err := e.client.StartWorkflow(ctx, workflow.TypeHealthMonitor, "", input)
	require.NoError(t, err)

	_, err = e.client.Result(ctx, id)
	assert.ErrorIs(t, err, core.ErrResultPending)

	require.NoError(t, e.client.Signal(ctx, id, "stop", nil))
	_, err = e.client.Await(ctx, id)
	require.NoError(t, err)

	out, err := e.client.Result(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestSignalClosedWorkflow(t *testing.T) {
	e := startEnv(t)
	ctx := context.Background()

	id, err := e.client.StartWorkflow(ctx, workflow.TypeGreeting, "", workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	_, err = e.client.Await(ctx, id)
	require.NoError(t, err)

	err = e.client.Signal(ctx, id, "set_suffix", "?")
	assert.ErrorIs(t, err, core.ErrWorkflowClosed)
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("text2image")
	require.True(t, strings.HasPrefix(id, "text2image-"))
	suffix := strings.TrimPrefix(id, "text2image-")
	assert.Len(t, suffix, 8)
	assert.NotEqual(t, id, GenerateID("text2image"))
}
