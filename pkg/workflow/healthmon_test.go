package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// probeActivities wires a scripted prober with retries disabled so a
// failing target fails its slot immediately.
func probeActivities(t *testing.T, probe activity.ProbeFunc) *activity.Registry {
	t.Helper()
	r := activity.NewRegistry()
	r.Register(activity.ProbeName, activity.NewProbe(probe), activity.Options{
		Retry: activity.RetryPolicy{MaxAttempts: 1},
	})
	return r
}

func monitorInput(t *testing.T, in HealthMonitorInput) []byte {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	return data
}

func TestHealthMonitorBoundedCycles(t *testing.T) {
	var probedMu sync.Mutex
	var probed []string
	acts := probeActivities(t, func(actx *activity.Context, target string) error {
		probedMu.Lock()
		probed = append(probed, target)
		probedMu.Unlock()
		return nil
	})
	inst := NewInstance("health-1", TypeHealthMonitor, NewHealthMonitor(), acts, nil)

	out, err := inst.Run(context.Background(), monitorInput(t, HealthMonitorInput{
		Targets:         []string{"http://a", "http://b"},
		CycleIntervalMS: 1,
		MaxCycles:       2,
	}))
	require.NoError(t, err)

	var summary HealthSummary
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, 2, summary.Cycles)
	assert.Equal(t, "ok", summary.Targets["http://a"])
	assert.Equal(t, "ok", summary.Targets["http://b"])
	assert.Len(t, probed, 4, "two targets across two cycles")
}

func TestHealthMonitorIsolatesProbeFailures(t *testing.T) {
	acts := probeActivities(t, func(actx *activity.Context, target string) error {
		if target == "http://down" {
			return core.Validation("target", "unreachable")
		}
		return nil
	})
	inst := NewInstance("health-1", TypeHealthMonitor, NewHealthMonitor(), acts, nil)

	out, err := inst.Run(context.Background(), monitorInput(t, HealthMonitorInput{
		Targets:         []string{"http://up", "http://down"},
		CycleIntervalMS: 1,
		MaxCycles:       1,
	}))
	require.NoError(t, err)

	var summary HealthSummary
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, "ok", summary.Targets["http://up"])
	assert.Contains(t, summary.Targets["http://down"], "error:")
}

func TestHealthMonitorStopSignalEndsSleep(t *testing.T) {
	acts := probeActivities(t, func(actx *activity.Context, target string) error { return nil })
	inst := NewInstance("health-1", TypeHealthMonitor, NewHealthMonitor(), acts, nil)

	done := make(chan []byte, 1)
	go func() {
		out, _ := inst.Run(context.Background(), monitorInput(t, HealthMonitorInput{
			Targets:         []string{"http://a"},
			CycleIntervalMS: time.Hour.Milliseconds(),
		}))
		done <- out
	}()

	// Let the first cycle finish, then stop mid-sleep.
	require.Eventually(t, func() bool {
		raw, err := inst.Query("get_summary")
		if err != nil {
			return false
		}
		return raw.(HealthSummary).Cycles >= 1
	}, 2*time.Second, 2*time.Millisecond)
	require.NoError(t, inst.Signal("stop", nil))

	select {
	case out := <-done:
		var summary HealthSummary
		require.NoError(t, json.Unmarshal(out, &summary))
		assert.GreaterOrEqual(t, summary.Cycles, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("stop signal did not end the hour-long sleep")
	}
}

func TestHealthMonitorAddTargetMidRun(t *testing.T) {
	acts := probeActivities(t, func(actx *activity.Context, target string) error { return nil })
	inst := NewInstance("health-1", TypeHealthMonitor, NewHealthMonitor(), acts, nil)

	done := make(chan []byte, 1)
	go func() {
		out, _ := inst.Run(context.Background(), monitorInput(t, HealthMonitorInput{
			Targets:         []string{"http://a"},
			CycleIntervalMS: 5,
		}))
		done <- out
	}()

	require.NoError(t, inst.Signal("add_target", []byte(`{"name":"http://late"}`)))

	// The new target joins a subsequent cycle.
	require.Eventually(t, func() bool {
		raw, err := inst.Query("get_summary")
		if err != nil {
			return false
		}
		return raw.(HealthSummary).Targets["http://late"] == "ok"
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, inst.Signal("stop", nil))
	<-done
}

func TestHealthMonitorTerminate(t *testing.T) {
	acts := probeActivities(t, func(actx *activity.Context, target string) error { return nil })
	inst := NewInstance("health-1", TypeHealthMonitor, NewHealthMonitor(), acts, nil)

	done := make(chan error, 1)
	go func() {
		_, err := inst.Run(context.Background(), monitorInput(t, HealthMonitorInput{
			Targets:         []string{"http://a"},
			CycleIntervalMS: time.Hour.Milliseconds(),
		}))
		done <- err
	}()

	require.Eventually(t, func() bool {
		select {
		case <-inst.Done():
			return false
		default:
		}
		raw, err := inst.Query("get_summary")
		return err == nil && raw.(HealthSummary).Cycles >= 1
	}, 2*time.Second, 2*time.Millisecond)

	inst.Terminate()
	select {
	case err := <-done:
		assert.NoError(t, err, "a terminated monitor still returns its summary")
	case <-time.After(2 * time.Second):
		t.Fatal("terminate did not end the run")
	}
}

func TestHealthMonitorSignalValidation(t *testing.T) {
	m := NewHealthMonitor()
	assert.ErrorIs(t, m.HandleSignal("unknown", nil), core.ErrUnknownSignal)

	err := m.HandleSignal("add_target", []byte(`{"name":""}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrUnknownSignal))
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
