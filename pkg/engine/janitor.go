package engine

import (
	"errors"
	"time"

	"renderflow/pkg/core"
)

// runJanitor is the liveness failure detector. A crash mid-execution
// leaves the record running forever; the janitor demotes such records
// to failed with an execution_timeout error once they have been silent
// longer than the configured timeout.
func (e *Engine) runJanitor() {
	defer e.wg.Done()

	next := e.config.JanitorSchedule.Next(time.Now())
	for {
		select {
		case <-e.rootCtx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		next = e.config.JanitorSchedule.Next(time.Now())
		e.sweep()
	}
}

func (e *Engine) sweep() {
	tasks, err := e.store.List(e.rootCtx)
	if err != nil {
		e.logger.Error("janitor list failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-e.config.ExecutionTimeout)
	for _, task := range tasks {
		if task.State != core.StateRunning {
			continue
		}
		last := task.StartedAt
		if task.LastProgressAt != nil {
			last = task.LastProgressAt
		}
		if last == nil || last.After(cutoff) {
			continue
		}

		now := time.Now()
		_, updErr := e.store.Update(e.rootCtx, task.ID, func(t *core.Task) error {
			if t.State != core.StateRunning {
				return core.ErrInvalidTransition
			}
			t.State = core.StateFailed
			t.ErrorKind = core.KindExecutionTimeout
			t.ErrorMessage = "no progress within execution timeout"
			t.FinishedAt = &now
			return nil
		})
		if updErr != nil {
			if !errors.Is(updErr, core.ErrInvalidTransition) {
				e.logger.Error("janitor failed to demote task", "task_id", task.ID, "error", updErr)
			}
			continue
		}
		e.logger.Warn("task demoted by liveness janitor", "task_id", task.ID)
		if demoted, getErr := e.store.Get(e.rootCtx, task.ID); getErr == nil {
			e.emit(&core.TaskFailed{Task: demoted, Error: demoted.Err(), Timestamp: now})
		}

		// Tear down the stalled execution if it is still registered.
		e.runningMu.Lock()
		if cancel, ok := e.running[task.ID]; ok {
			cancel()
		}
		e.runningMu.Unlock()
	}
}
