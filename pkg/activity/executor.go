package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrHeartbeatTimeout is returned when a long-running activity misses
// its heartbeat window. The caller workflow observes this as an
// activity timeout after the retry policy is exhausted.
var ErrHeartbeatTimeout = errors.New("activity: heartbeat timeout")

// Execute runs a registered activity under its policy: transient
// failures and heartbeat timeouts are retried with backoff, and every
// heartbeat payload is forwarded to onHeartbeat in emission order.
// Activities must tolerate re-invocation; a retried attempt starts from
// the same input.
func Execute(ctx context.Context, reg Registration, input []byte, onHeartbeat func(payload []byte)) ([]byte, error) {
	var output []byte
	err := retryWithBackoff(ctx, reg.Options.Retry, func() error {
		var attemptErr error
		output, attemptErr = runAttempt(ctx, reg, input, onHeartbeat)
		return attemptErr
	})
	if err != nil {
		return nil, fmt.Errorf("activity %q: %w", reg.Name, err)
	}
	return output, nil
}

// runAttempt executes one attempt with a heartbeat watchdog. The
// watchdog cancels the attempt context when no heartbeat arrives within
// the configured window.
func runAttempt(ctx context.Context, reg Registration, input []byte, onHeartbeat func(payload []byte)) ([]byte, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		timedOut  bool
		timeoutMu sync.Mutex
		watchdog  *time.Timer
	)
	if reg.Options.HeartbeatTimeout > 0 {
		watchdog = time.AfterFunc(reg.Options.HeartbeatTimeout, func() {
			timeoutMu.Lock()
			timedOut = true
			timeoutMu.Unlock()
			cancel()
		})
		defer watchdog.Stop()
	}

	actx := &Context{
		ctx: attemptCtx,
		heartbeat: func(payload []byte) {
			if watchdog != nil {
				watchdog.Reset(reg.Options.HeartbeatTimeout)
			}
			if onHeartbeat != nil {
				onHeartbeat(payload)
			}
		},
	}

	output, err := reg.Fn(actx, input)
	if err != nil {
		timeoutMu.Lock()
		missed := timedOut
		timeoutMu.Unlock()
		if missed && errors.Is(err, context.Canceled) {
			return nil, ErrHeartbeatTimeout
		}
		return nil, err
	}
	return output, nil
}
