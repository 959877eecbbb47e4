package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/activity"
	"renderflow/pkg/backend"
	"renderflow/pkg/client"
	"renderflow/pkg/engine"
	"renderflow/pkg/taskstore"
	"renderflow/pkg/worker"
	"renderflow/pkg/workflow"
)

// newBridgeServer wires the full single-process stack: in-process
// engine, workflow runtime, client, and a polling worker.
func newBridgeServer(t *testing.T, stepDelay time.Duration) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	eng := engine.New(taskstore.NewMemoryStore(), backend.NewSimulator(stepDelay), engine.WithOutputDir(dir))
	t.Cleanup(eng.Close)

	activities := activity.NewRegistry()
	activities.Register(activity.GreetName, activity.Greet, activity.DefaultOptions())
	activities.Register(activity.Text2ImageName,
		activity.NewText2Image(&activity.EngineService{Engine: eng}, time.Millisecond),
		activity.DefaultOptions())

	workflows := workflow.NewRegistry()
	workflow.RegisterDefaults(workflows)

	runs := workflow.NewMemoryRunStore()
	runtime := workflow.NewRuntime(workflows, activities, nil)

	w := worker.New(runs, runtime, worker.WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-workerDone
	})

	app := &App{
		Engine:    eng,
		Client:    client.New(runs, runtime),
		OutputDir: dir,
	}
	srv := httptest.NewServer(NewRouter(app, RouterConfig{}))
	t.Cleanup(srv.Close)
	return srv
}

func awaitWorkflowStatus(t *testing.T, srv *httptest.Server, id, want string) map[string]any {
	t.Helper()
	var status map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/workflows/" + id + "/status")
		if err != nil {
			return false
		}
		decodeBody(t, resp, &status)
		return status["status"] == want
	}, 5*time.Second, 10*time.Millisecond, "workflow never reached %s", want)
	return status
}

func TestGenerateWorkflowEndToEnd(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	resp := postJSON(t, srv.URL+"/workflows/generate", GenerationRequest{Prompt: "a lighthouse", Width: 64, Height: 64, Steps: 2})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started workflowResponse
	decodeBody(t, resp, &started)
	require.NotEmpty(t, started.WorkflowID)

	awaitWorkflowStatus(t, srv, started.WorkflowID, "completed")

	resp, err := http.Get(srv.URL + "/workflows/" + started.WorkflowID + "/result")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Result workflow.Text2ImageResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "completed", body.Result.Status)
	assert.Equal(t, "task-"+started.WorkflowID, body.Result.TaskID)
	assert.NotEmpty(t, body.Result.ImagePath)
}

func TestStartWorkflowGeneric(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	input, err := json.Marshal(workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	resp := postJSON(t, srv.URL+"/workflows", startWorkflowRequest{Type: workflow.TypeGreeting, Input: input})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started workflowResponse
	decodeBody(t, resp, &started)

	awaitWorkflowStatus(t, srv, started.WorkflowID, "completed")

	resp, err = http.Get(srv.URL + "/workflows/" + started.WorkflowID + "/result")
	require.NoError(t, err)
	var body struct {
		Result workflow.GreetingResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "Hello, Ada!", body.Result.Greeting)

	resp, err = http.Get(srv.URL + "/workflows/" + started.WorkflowID + "/query/get_state")
	require.NoError(t, err)
	var query struct {
		Result string `json:"result"`
	}
	decodeBody(t, resp, &query)
	assert.Equal(t, "Hello, Ada!", query.Result)
}

func TestStartWorkflowValidation(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	resp := postJSON(t, srv.URL+"/workflows", startWorkflowRequest{Type: ""})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/workflows", startWorkflowRequest{Type: "no-such-type"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowStatusNotFound(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	resp, err := http.Get(srv.URL + "/workflows/missing/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowSignalAndMonitor(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	input, err := json.Marshal(workflow.HealthMonitorInput{CycleIntervalMS: time.Hour.Milliseconds()})
	require.NoError(t, err)
	resp := postJSON(t, srv.URL+"/workflows", startWorkflowRequest{Type: workflow.TypeHealthMonitor, Input: input})
	var started workflowResponse
	decodeBody(t, resp, &started)

	awaitWorkflowStatus(t, srv, started.WorkflowID, "running")

	// The result is pending while the monitor loops.
	resp, err = http.Get(srv.URL + "/workflows/" + started.WorkflowID + "/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/workflows/"+started.WorkflowID+"/signal/stop", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	awaitWorkflowStatus(t, srv, started.WorkflowID, "completed")
}

func TestWorkflowCancel(t *testing.T) {
	// A slow backend keeps the generation in flight long enough to cancel.
	srv := newBridgeServer(t, 50*time.Millisecond)

	resp := postJSON(t, srv.URL+"/workflows/generate", GenerationRequest{Prompt: "slow render", Width: 64, Height: 64, Steps: 100})
	var started workflowResponse
	decodeBody(t, resp, &started)

	awaitWorkflowStatus(t, srv, started.WorkflowID, "running")

	resp, err := http.Post(srv.URL+"/workflows/"+started.WorkflowID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	var cancelBody map[string]string
	decodeBody(t, resp, &cancelBody)
	assert.Equal(t, "cancel_requested", cancelBody["status"])

	// A canceled generation closes gracefully with a canceled result.
	awaitWorkflowStatus(t, srv, started.WorkflowID, "completed")
	resp, err = http.Get(srv.URL + "/workflows/" + started.WorkflowID + "/result")
	require.NoError(t, err)
	var body struct {
		Result workflow.Text2ImageResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "canceled", body.Result.Status)
}

func TestListWorkflows(t *testing.T) {
	srv := newBridgeServer(t, time.Millisecond)

	input, err := json.Marshal(workflow.GreetingInput{Name: "Ada"})
	require.NoError(t, err)
	resp := postJSON(t, srv.URL+"/workflows", startWorkflowRequest{Type: workflow.TypeGreeting, Input: input})
	var started workflowResponse
	decodeBody(t, resp, &started)
	awaitWorkflowStatus(t, srv, started.WorkflowID, "completed")

	resp, err = http.Get(srv.URL + "/workflows/")
	require.NoError(t, err)
	var list struct {
		Workflows []workflow.Run `json:"workflows"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, started.WorkflowID, list.Workflows[0].ID)
}
