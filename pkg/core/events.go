package core

import "time"

// Event is the interface for all engine events.
type Event interface {
	eventMarker()
}

// TaskSubmitted is emitted when a task record is created.
type TaskSubmitted struct {
	Task      *Task
	Timestamp time.Time
}

func (*TaskSubmitted) eventMarker() {}

// TaskStarted is emitted when a task transitions to running.
type TaskStarted struct {
	Task      *Task
	Timestamp time.Time
}

func (*TaskStarted) eventMarker() {}

// TaskProgressed is emitted on each accepted progress update.
type TaskProgressed struct {
	TaskID    string
	Progress  Progress
	Timestamp time.Time
}

func (*TaskProgressed) eventMarker() {}

// TaskCompleted is emitted when a task produces an artifact.
type TaskCompleted struct {
	Task      *Task
	Duration  time.Duration
	Timestamp time.Time
}

func (*TaskCompleted) eventMarker() {}

// TaskFailed is emitted when a task fails terminally.
type TaskFailed struct {
	Task      *Task
	Error     *TaskError
	Timestamp time.Time
}

func (*TaskFailed) eventMarker() {}

// TaskCanceled is emitted when a cancellation is acknowledged.
type TaskCanceled struct {
	Task      *Task
	Timestamp time.Time
}

func (*TaskCanceled) eventMarker() {}
