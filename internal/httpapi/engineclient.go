package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"renderflow/pkg/core"
)

// EngineClient drives a remote engine over its HTTP surface. It
// satisfies the task service contract of the text-to-image activity, so
// a worker can run against an engine in another process.
type EngineClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewEngineClient creates a client with a bounded request timeout.
func NewEngineClient(baseURL string) *EngineClient {
	return &EngineClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the engine.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine API error (%d): %s", e.StatusCode, e.Message)
}

func (c *EngineClient) SubmitTask(ctx context.Context, id string, params core.GenerationParams) (string, error) {
	seed := params.Seed
	req := GenerationRequest{
		TaskID:         id,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Model:          params.Model,
		Width:          params.Width,
		Height:         params.Height,
		Steps:          params.Steps,
		CFGScale:       params.CFGScale,
		Seed:           &seed,
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

func (c *EngineClient) TaskStatus(ctx context.Context, id string) (*core.Task, error) {
	var resp taskStatusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &core.Task{
		ID:           resp.TaskID,
		State:        core.TaskState(resp.Status),
		Progress:     resp.Progress,
		ProgressNote: resp.Note,
		CreatedAt:    resp.CreatedAt,
		StartedAt:    resp.StartedAt,
		FinishedAt:   resp.FinishedAt,
		ErrorKind:    core.ErrorKind(resp.ErrorKind),
		ErrorMessage: resp.Error,
	}, nil
}

func (c *EngineClient) TaskResult(ctx context.Context, id string) (*core.Artifact, error) {
	var resp taskResultResponse
	if err := c.do(ctx, http.MethodGet, "/result/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &core.Artifact{
		Path:    resp.ImagePath,
		Model:   resp.Model,
		Seed:    resp.Seed,
		Elapsed: time.Duration(resp.ElapsedMS) * time.Millisecond,
	}, nil
}

func (c *EngineClient) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+id, nil, nil)
}

// do sends one request and decodes the response, translating the wire
// status back into the shared error taxonomy.
func (c *EngineClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return core.Transient(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrNotFound
	case resp.StatusCode == http.StatusAccepted && method == http.MethodGet:
		return core.ErrResultPending
	case resp.StatusCode == http.StatusGone:
		return core.ErrTaskCanceled
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var body errorResponse
		if jsonErr := json.Unmarshal(respBody, &body); jsonErr == nil && body.Kind != "" {
			return &core.TaskError{Kind: core.ErrorKind(body.Kind), Message: body.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	case resp.StatusCode >= 500:
		return core.Transient(&APIError{StatusCode: resp.StatusCode, Message: string(respBody)})
	case resp.StatusCode >= 400:
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
