package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/core"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	calls := 0
	reg := Registration{
		Name: "flaky",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, core.Transient(errors.New("connection refused"))
			}
			return []byte(`"ok"`), nil
		},
		Options: Options{Retry: fastRetry(5)},
	}

	out, err := Execute(context.Background(), reg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"ok"`), out)
	assert.Equal(t, 3, calls)
}

func TestExecuteDoesNotRetryValidation(t *testing.T) {
	calls := 0
	reg := Registration{
		Name: "strict",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			calls++
			return nil, core.Validation("input", "malformed")
		},
		Options: Options{Retry: fastRetry(5)},
	}

	_, err := Execute(context.Background(), reg, nil, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestExecuteDoesNotRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	reg := Registration{
		Name: "canceled",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			calls++
			cancel()
			<-actx.Context().Done()
			return nil, actx.Context().Err()
		},
		Options: Options{Retry: fastRetry(5)},
	}

	_, err := Execute(ctx, reg, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	calls := 0
	reg := Registration{
		Name: "doomed",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			calls++
			return nil, core.Transient(errors.New("still down"))
		},
		Options: Options{Retry: fastRetry(3)},
	}

	_, err := Execute(context.Background(), reg, nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestExecuteHeartbeatTimeout(t *testing.T) {
	calls := 0
	reg := Registration{
		Name: "silent",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			calls++
			// Never heartbeats; the watchdog cancels the attempt.
			<-actx.Context().Done()
			return nil, actx.Context().Err()
		},
		Options: Options{
			Retry:            fastRetry(2),
			HeartbeatTimeout: 10 * time.Millisecond,
		},
	}

	_, err := Execute(context.Background(), reg, nil, nil)
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.Equal(t, 2, calls, "heartbeat timeouts are retried")
}

func TestExecuteHeartbeatKeepsAttemptAlive(t *testing.T) {
	reg := Registration{
		Name: "chatty",
		Fn: func(actx *Context, input []byte) ([]byte, error) {
			for i := 0; i < 5; i++ {
				select {
				case <-actx.Context().Done():
					return nil, actx.Context().Err()
				case <-time.After(5 * time.Millisecond):
				}
				actx.Heartbeat(i)
			}
			return []byte(`"done"`), nil
		},
		Options: Options{
			Retry:            fastRetry(1),
			HeartbeatTimeout: 20 * time.Millisecond,
		},
	}

	var payloads []string
	out, err := Execute(context.Background(), reg, nil, func(payload []byte) {
		payloads = append(payloads, string(payload))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`"done"`), out)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, payloads, "heartbeats arrive in emission order")
}

func TestGreet(t *testing.T) {
	reg := Registration{Name: GreetName, Fn: Greet, Options: DefaultOptions()}
	input, _ := json.Marshal(GreetInput{Name: "Ada"})

	var beats int
	out, err := Execute(context.Background(), reg, input, func([]byte) { beats++ })
	require.NoError(t, err)

	var result GreetOutput
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Hello, Ada", result.Greeting)
	assert.Equal(t, 3, beats)
}

func TestProbeRejectsNonURL(t *testing.T) {
	fn := NewProbe(NewHTTPProber(time.Second))
	input, _ := json.Marshal(ProbeInput{Target: "db-primary"})

	actx := &Context{ctx: context.Background()}
	_, err := fn(actx, input)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("once", Greet, DefaultOptions())
	assert.Panics(t, func() {
		r.Register("once", Greet, DefaultOptions())
	})
}
