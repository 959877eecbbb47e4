// Package client is the application-facing surface of the workflow
// substrate: start a workflow, signal it, query it, and collect its
// terminal result.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"renderflow/pkg/core"
	"renderflow/pkg/security"
	"renderflow/pkg/workflow"
)

// Client routes workflow operations through the shared runtime and the
// durable run store.
type Client struct {
	runs    workflow.RunStore
	runtime *workflow.Runtime
	queue   string
	logger  *slog.Logger
}

// Option mutates a client.
type Option func(*Client)

// WithQueue sets the queue new runs are enqueued on.
func WithQueue(name string) Option {
	return func(c *Client) { c.queue = name }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client over the shared run store and runtime.
func New(runs workflow.RunStore, runtime *workflow.Runtime, opts ...Option) *Client {
	c := &Client{
		runs:    runs,
		runtime: runtime,
		queue:   "default",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartWorkflow enqueues a new run and returns its workflow id. An
// empty id gets a generated one of the form "<type>-<8 hex chars>".
// Re-using the id of a run that is still open fails with
// core.ErrWorkflowIDInUse.
func (c *Client) StartWorkflow(ctx context.Context, workflowType, id string, input any) (string, error) {
	if id == "" {
		id = GenerateID(workflowType)
	} else if err := security.ValidateWorkflowID(id); err != nil {
		return "", err
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", core.Validation("input", err.Error())
	}

	if _, err := c.runtime.Create(id, workflowType); err != nil {
		return "", err
	}
	run := &workflow.Run{
		ID:    id,
		Type:  workflowType,
		Queue: c.queue,
		Input: data,
	}
	if err := c.runs.Enqueue(ctx, run); err != nil {
		c.runtime.Discard(id)
		return "", err
	}

	c.logger.Info("workflow started", "workflow_id", id, "workflow_type", workflowType)
	return id, nil
}

// Signal delivers a named signal to an open workflow. Signals sent
// before a worker picks the run up queue in arrival order.
func (c *Client) Signal(ctx context.Context, id, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return core.Validation("payload", err.Error())
	}

	inst, err := c.instance(ctx, id)
	if err != nil {
		return err
	}
	return inst.Signal(name, data)
}

// Query answers a read-only question against the workflow's latest
// committed state. Queries work on open and on closed workflows.
func (c *Client) Query(ctx context.Context, id, name string) (any, error) {
	inst, err := c.instance(ctx, id)
	if err != nil {
		return nil, err
	}
	return inst.Query(name)
}

// Cancel requests a graceful stop via the workflow's cancel signal.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.Signal(ctx, id, "cancel", nil)
}

// Terminate force-cancels a running workflow without giving its logic a
// say. Prefer Cancel for workflows that handle the cancel signal.
func (c *Client) Terminate(ctx context.Context, id string) error {
	inst, err := c.instance(ctx, id)
	if err != nil {
		return err
	}
	inst.Terminate()
	return nil
}

// Result returns the terminal output of a run, or core.ErrResultPending
// while it is still open.
func (c *Client) Result(ctx context.Context, id string) ([]byte, error) {
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch run.State {
	case workflow.RunCompleted:
		return run.Output, nil
	case workflow.RunFailed:
		return nil, fmt.Errorf("workflow %s failed (%s): %s", id, run.ErrorKind, run.ErrorMessage)
	case workflow.RunCanceled:
		return nil, core.ErrTaskCanceled
	default:
		return nil, core.ErrResultPending
	}
}

// Await blocks until the run closes, then returns its result.
func (c *Client) Await(ctx context.Context, id string) ([]byte, error) {
	inst, err := c.instance(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrWorkflowClosed) {
			return c.Result(ctx, id)
		}
		return nil, err
	}
	select {
	case <-inst.Done():
		return inst.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Describe returns the durable run record.
func (c *Client) Describe(ctx context.Context, id string) (*workflow.Run, error) {
	return c.runs.Get(ctx, id)
}

// List returns the runs on the client's queue, oldest first.
func (c *Client) List(ctx context.Context) ([]*workflow.Run, error) {
	return c.runs.List(ctx, c.queue)
}

// instance resolves the live instance for a run, recreating it when the
// run was enqueued by another process and no worker has attached yet.
func (c *Client) instance(ctx context.Context, id string) (*workflow.Instance, error) {
	if inst, ok := c.runtime.Get(id); ok {
		return inst, nil
	}
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return nil, core.ErrWorkflowClosed
	}
	return c.runtime.Attach(run)
}

// GenerateID builds a workflow id in the documented wire format.
func GenerateID(workflowType string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return workflowType + "-" + hex[:8]
}
