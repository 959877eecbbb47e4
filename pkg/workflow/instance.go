package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// Instance is one open (or recently closed) workflow run: the logic
// state machine, its signal inbox, and the routing needed for signals,
// queries and heartbeats. All logic access goes through mu, so queries
// never observe a state mid-mutation.
type Instance struct {
	id           string
	workflowType string
	logic        Logic
	activities   *activity.Registry
	logger       *slog.Logger

	mu    sync.Mutex
	inbox *inbox

	runCtx    context.Context
	cancelRun context.CancelFunc

	done   chan struct{}
	output []byte
	runErr error
}

// NewInstance prepares a run. Signals sent before Run starts queue up
// in the inbox and are applied, in order, before the first activity.
func NewInstance(id, workflowType string, logic Logic, activities *activity.Registry, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instance{
		id:           id,
		workflowType: workflowType,
		logic:        logic,
		activities:   activities,
		logger:       logger.With("workflow_id", id, "workflow_type", workflowType),
		inbox:        newInbox(),
		done:         make(chan struct{}),
	}
}

// ID returns the workflow id.
func (in *Instance) ID() string { return in.id }

// Type returns the workflow type name.
func (in *Instance) Type() string { return in.workflowType }

// Run drives the logic to its terminal result. It is called exactly
// once, by the worker that dequeued the run.
func (in *Instance) Run(ctx context.Context, input []byte) ([]byte, error) {
	in.runCtx, in.cancelRun = context.WithCancel(ctx)
	defer in.cancelRun()

	wctx := &Context{inst: in}
	in.drainSignals()
	output, err := in.logic.Run(wctx, input)

	in.inbox.close()
	in.output, in.runErr = output, err
	close(in.done)
	return output, err
}

// Signal enqueues a named signal. Delivery order matches arrival order;
// signals sent to a closed instance fail with core.ErrWorkflowClosed.
func (in *Instance) Signal(name string, payload []byte) error {
	return in.inbox.push(Signal{Name: name, Payload: payload})
}

// Query answers a read-only question against the latest committed
// state. Queries stay answerable after the run reaches a terminal
// state.
func (in *Instance) Query(name string) (any, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.logic.HandleQuery(name)
}

// Terminate force-cancels the run context. The in-flight activity is
// canceled and the run returns with context.Canceled.
func (in *Instance) Terminate() {
	if in.cancelRun != nil {
		in.cancelRun()
	}
}

// Done is closed when the run reaches a terminal state.
func (in *Instance) Done() <-chan struct{} { return in.done }

// Result returns the terminal output. It reports core.ErrResultPending
// while the run is still open.
func (in *Instance) Result() ([]byte, error) {
	select {
	case <-in.done:
		return in.output, in.runErr
	default:
		return nil, core.ErrResultPending
	}
}

// drainSignals applies every queued signal in FIFO order under the
// state lock. Handler errors are logged, not fatal: a malformed signal
// must not wedge the run.
func (in *Instance) drainSignals() {
	for {
		sig, ok := in.inbox.pop()
		if !ok {
			return
		}
		in.mu.Lock()
		err := in.logic.HandleSignal(sig.Name, sig.Payload)
		in.mu.Unlock()
		if err != nil {
			in.logger.Warn("signal rejected", "signal", sig.Name, "error", err)
		}
	}
}

// interrupted reports whether the logic asked for control back at the
// next suspension point.
func (in *Instance) interrupted() bool {
	intr, ok := in.logic.(interrupter)
	if !ok {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return intr.Interrupted()
}

// deliverHeartbeat forwards an activity heartbeat payload to the logic,
// under the state lock so queries see either the old or the new
// snapshot, never a torn one.
func (in *Instance) deliverHeartbeat(payload []byte) {
	sink, ok := in.logic.(heartbeatSink)
	if !ok {
		return
	}
	in.mu.Lock()
	sink.HandleHeartbeat(payload)
	in.mu.Unlock()
}

// Context is the workflow-side API surface, handed to Logic.Run. Every
// blocking method is a suspension point: queued signals are applied
// before the call takes effect, while it is in flight, and again before
// control returns to the logic.
type Context struct {
	inst *Instance
}

// WorkflowID returns the id of the running workflow. Deriving activity
// task ids from it keeps re-invocation idempotent.
func (c *Context) WorkflowID() string { return c.inst.id }

// Update runs fn under the instance lock. Logic must route every state
// mutation made from Run through here so concurrent queries and signal
// handlers stay consistent.
func (c *Context) Update(fn func()) {
	c.inst.mu.Lock()
	fn()
	c.inst.mu.Unlock()
}

// ActivityResult is one slot of a parallel fan-out.
type ActivityResult struct {
	Output []byte
	Err    error
}

// Execute schedules one activity and blocks until it completes. Signals
// arriving while the activity is in flight are applied immediately; if
// the logic then reports interruption the activity context is canceled
// and the call returns its error.
func (c *Context) Execute(name string, input any) ([]byte, error) {
	in := c.inst
	reg, ok := in.activities.Get(name)
	if !ok {
		return nil, core.Validation("activity", "unknown activity "+name)
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, core.Validation("input", err.Error())
	}

	in.drainSignals()
	if in.interrupted() {
		return nil, context.Canceled
	}

	actCtx, cancelAct := context.WithCancel(in.runCtx)
	defer cancelAct()

	resultCh := make(chan ActivityResult, 1)
	go func() {
		out, runErr := activity.Execute(actCtx, reg, data, in.deliverHeartbeat)
		resultCh <- ActivityResult{Output: out, Err: runErr}
	}()

	for {
		select {
		case res := <-resultCh:
			in.drainSignals()
			return res.Output, res.Err
		case <-in.inbox.wake():
			in.drainSignals()
			if in.interrupted() {
				cancelAct()
			}
		case <-in.runCtx.Done():
			cancelAct()
			res := <-resultCh
			return res.Output, res.Err
		}
	}
}

// ExecuteParallel schedules one activity invocation per input and waits
// for all of them. Failures are isolated per slot: one probe erroring
// never aborts its siblings. Signals are drained before the fan-out and
// after it completes.
func (c *Context) ExecuteParallel(name string, inputs []any) []ActivityResult {
	in := c.inst
	results := make([]ActivityResult, len(inputs))

	reg, ok := in.activities.Get(name)
	if !ok {
		err := core.Validation("activity", "unknown activity "+name)
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	in.drainSignals()

	var g errgroup.Group
	for i, input := range inputs {
		data, err := json.Marshal(input)
		if err != nil {
			results[i].Err = core.Validation("input", err.Error())
			continue
		}
		i := i
		g.Go(func() error {
			out, runErr := activity.Execute(in.runCtx, reg, data, in.deliverHeartbeat)
			results[i] = ActivityResult{Output: out, Err: runErr}
			return nil
		})
	}
	_ = g.Wait()

	in.drainSignals()
	return results
}

// Sleep suspends the run for at least d. A signal arriving mid-sleep is
// applied immediately; when the logic reports interruption the sleep
// ends early and Sleep returns true.
func (c *Context) Sleep(d time.Duration) bool {
	in := c.inst
	in.drainSignals()
	if in.interrupted() {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			in.drainSignals()
			return in.interrupted()
		case <-in.inbox.wake():
			in.drainSignals()
			if in.interrupted() {
				return true
			}
		case <-in.runCtx.Done():
			return true
		}
	}
}

// Canceled reports whether the run context was force-terminated.
func (c *Context) Canceled() bool {
	return c.inst.runCtx.Err() != nil
}

// IsCancellation reports whether an activity error means the work was
// canceled rather than failed.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, core.ErrTaskCanceled)
}
