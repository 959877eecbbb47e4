package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

func greetingActivities(t *testing.T) *activity.Registry {
	t.Helper()
	r := activity.NewRegistry()
	r.Register(activity.GreetName, activity.Greet, activity.DefaultOptions())
	return r
}

func newGreetingInstance(t *testing.T, id string) *Instance {
	t.Helper()
	return NewInstance(id, TypeGreeting, NewGreeting(), greetingActivities(t), nil)
}

func greetingInput(t *testing.T, name string) []byte {
	t.Helper()
	data, err := json.Marshal(GreetingInput{Name: name})
	require.NoError(t, err)
	return data
}

func TestGreetingRun(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	out, err := inst.Run(context.Background(), greetingInput(t, "Ada"))
	require.NoError(t, err)

	var result GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada!", result.Greeting)
}

func TestGreetingRejectsEmptyName(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	_, err := inst.Run(context.Background(), greetingInput(t, ""))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestGreetingSignalBeforeRun(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	// Queued before the run starts; applied before the first activity.
	require.NoError(t, inst.Signal("set_suffix", []byte(`"?"`)))

	out, err := inst.Run(context.Background(), greetingInput(t, "Ada"))
	require.NoError(t, err)

	var result GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada?", result.Greeting)
}

func TestGreetingSignalDuringRun(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	go func() {
		// Land while the greet activity is in flight.
		time.Sleep(10 * time.Millisecond)
		_ = inst.Signal("set_suffix", []byte(`"!!!"`))
	}()

	out, err := inst.Run(context.Background(), greetingInput(t, "Ada"))
	require.NoError(t, err)

	var result GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada!!!", result.Greeting)
}

func TestGreetingQueryLifecycle(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = inst.Run(context.Background(), greetingInput(t, "Ada"))
	}()

	require.Eventually(t, func() bool {
		state, err := inst.Query("get_state")
		return err == nil && state != ""
	}, time.Second, 2*time.Millisecond)

	<-done

	// Queries stay answerable after the terminal state.
	state, err := inst.Query("get_state")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", state)

	_, err = inst.Query("nonsense")
	assert.ErrorIs(t, err, core.ErrUnknownQuery)
}

func TestGreetingResultAndClosedInbox(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")

	_, err := inst.Result()
	assert.ErrorIs(t, err, core.ErrResultPending)

	out, err := inst.Run(context.Background(), greetingInput(t, "Ada"))
	require.NoError(t, err)

	got, err := inst.Result()
	require.NoError(t, err)
	assert.Equal(t, out, got)

	assert.ErrorIs(t, inst.Signal("set_suffix", []byte(`"?"`)), core.ErrWorkflowClosed)
}

func TestGreetingUnknownSignalDoesNotWedgeRun(t *testing.T) {
	inst := newGreetingInstance(t, "greeting-1")
	require.NoError(t, inst.Signal("no_such_signal", []byte(`{}`)))

	out, err := inst.Run(context.Background(), greetingInput(t, "Ada"))
	require.NoError(t, err)

	var result GreetingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada!", result.Greeting)
}

func TestGreetingHandleSignalErrors(t *testing.T) {
	g := NewGreeting()
	assert.ErrorIs(t, g.HandleSignal("no_such_signal", nil), core.ErrUnknownSignal)

	err := g.HandleSignal("set_suffix", []byte("not json"))
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
