package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// TypeHealthMonitor names the long-running monitoring workflow. Each
// cycle it probes every registered target in parallel, folds the
// results into a summary, then sleeps until the next cycle.
const TypeHealthMonitor = "health-monitor"

// HealthMonitorInput starts a monitoring run.
type HealthMonitorInput struct {
	Targets []string `json:"targets"`
	// CycleIntervalMS is the pause between probe cycles.
	CycleIntervalMS int64 `json:"cycle_interval_ms"`
	// MaxCycles bounds the run; zero means run until stopped.
	MaxCycles int `json:"max_cycles,omitempty"`
}

// HealthSummary is the per-target status map returned by the
// get_summary query and as the terminal result.
type HealthSummary struct {
	Targets map[string]string `json:"targets"`
	Cycles  int               `json:"cycles"`
}

type addTargetSignal struct {
	Name string `json:"name"`
}

// HealthMonitor tracks a grow-only target set. The add_target signal
// registers a new target for subsequent cycles; stop ends the run after
// the current cycle.
type HealthMonitor struct {
	targets  []string
	statuses map[string]string
	cycles   int
	stopped  bool
}

// NewHealthMonitor is the factory registered under TypeHealthMonitor.
func NewHealthMonitor() Logic {
	return &HealthMonitor{statuses: make(map[string]string)}
}

func (m *HealthMonitor) Run(wctx *Context, input []byte) ([]byte, error) {
	var in HealthMonitorInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, core.Validation("input", err.Error())
	}
	if in.CycleIntervalMS <= 0 {
		in.CycleIntervalMS = (30 * time.Second).Milliseconds()
	}
	wctx.Update(func() {
		for _, t := range in.Targets {
			m.addTarget(t)
		}
	})

	for {
		var stop bool
		wctx.Update(func() { stop = m.stopped })
		if stop {
			break
		}

		m.probeCycle(wctx)

		var cycles int
		wctx.Update(func() {
			m.cycles++
			cycles = m.cycles
		})
		if in.MaxCycles > 0 && cycles >= in.MaxCycles {
			break
		}

		if wctx.Sleep(time.Duration(in.CycleIntervalMS) * time.Millisecond) {
			// Woken early; the loop re-checks the stop flag.
			if wctx.Canceled() {
				break
			}
		}
	}

	var summary HealthSummary
	wctx.Update(func() { summary = m.summary() })
	return json.Marshal(summary)
}

// probeCycle fans out one probe per target. A failing target records
// its error without disturbing the others.
func (m *HealthMonitor) probeCycle(wctx *Context) {
	var targets []string
	wctx.Update(func() { targets = append([]string(nil), m.targets...) })
	if len(targets) == 0 {
		return
	}

	inputs := make([]any, len(targets))
	for i, t := range targets {
		inputs[i] = activity.ProbeInput{Target: t}
	}
	results := wctx.ExecuteParallel(activity.ProbeName, inputs)

	wctx.Update(func() {
		for i, res := range results {
			if res.Err != nil {
				m.statuses[targets[i]] = "error: " + res.Err.Error()
				continue
			}
			var out activity.ProbeOutput
			if err := json.Unmarshal(res.Output, &out); err != nil {
				m.statuses[targets[i]] = "error: " + err.Error()
				continue
			}
			m.statuses[targets[i]] = out.Status
		}
	})
}

func (m *HealthMonitor) HandleSignal(name string, payload []byte) error {
	switch name {
	case "add_target":
		var sig addTargetSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			return core.Validation("payload", err.Error())
		}
		if sig.Name == "" {
			return core.Validation("name", "must not be empty")
		}
		m.addTarget(sig.Name)
		return nil
	case "stop":
		m.stopped = true
		return nil
	default:
		return fmt.Errorf("%w: %s", core.ErrUnknownSignal, name)
	}
}

func (m *HealthMonitor) HandleQuery(name string) (any, error) {
	switch name {
	case "get_summary":
		return m.summary(), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownQuery, name)
	}
}

// Interrupted wakes the run loop once stop has been requested.
func (m *HealthMonitor) Interrupted() bool { return m.stopped }

// addTarget appends a target once. The set grows, never shrinks.
func (m *HealthMonitor) addTarget(name string) {
	for _, t := range m.targets {
		if t == name {
			return
		}
	}
	m.targets = append(m.targets, name)
	if _, ok := m.statuses[name]; !ok {
		m.statuses[name] = "pending"
	}
}

func (m *HealthMonitor) summary() HealthSummary {
	out := HealthSummary{Targets: make(map[string]string, len(m.statuses)), Cycles: m.cycles}
	for k, v := range m.statuses {
		out.Targets[k] = v
	}
	return out
}
