// Package core provides the domain models and interfaces shared by the
// task store, the execution engine, activities, and workflows.
package core

import (
	"fmt"
	"time"
)

// TaskState represents the lifecycle state of a generation task.
type TaskState string

const (
	StateQueued    TaskState = "queued"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
	StateCanceled  TaskState = "canceled"
)

// Terminal reports whether a task in this state can never change again.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from one state to another.
// The only legal paths are queued→running, queued→canceled,
// running→completed, running→failed and running→canceled.
func CanTransition(from, to TaskState) bool {
	if from == to {
		return false
	}
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCanceled
	case StateRunning:
		return to == StateCompleted || to == StateFailed || to == StateCanceled
	}
	return false
}

// GenerationParams are the immutable inputs of a generation task.
// Seed -1 asks the backend to pick a random seed.
type GenerationParams struct {
	Prompt         string  `gorm:"type:text;not null" json:"prompt"`
	NegativePrompt string  `gorm:"type:text" json:"negative_prompt"`
	Model          string  `gorm:"size:255" json:"model"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
}

// Progress is a monotonic progress snapshot of a running task.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Note     string  `json:"note"`
}

// Artifact is the output of a completed generation task.
type Artifact struct {
	Path    string        `json:"path"`
	Data    []byte        `json:"data,omitempty"`
	Model   string        `json:"model"`
	Seed    int64         `json:"seed"`
	Elapsed time.Duration `json:"elapsed"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Task is one generation request and its lifecycle record. Columns mirror
// the record fields of the store contract; Params never change after
// creation, progress is monotonic, result and error are mutually exclusive.
type Task struct {
	ID     string           `gorm:"primaryKey;size:64" json:"id"`
	State  TaskState        `gorm:"index;size:20;default:'queued'" json:"state"`
	Params GenerationParams `gorm:"embedded" json:"params"`

	Progress     float64 `gorm:"default:0" json:"progress"`
	ProgressNote string  `gorm:"size:255" json:"progress_note"`

	ResultPath    string        `json:"result_path,omitempty"`
	ResultData    []byte        `gorm:"type:bytes" json:"-"`
	ResultModel   string        `gorm:"size:255" json:"result_model,omitempty"`
	ResultSeed    int64         `json:"result_seed,omitempty"`
	ResultElapsed time.Duration `json:"result_elapsed,omitempty"`

	ErrorKind    ErrorKind `gorm:"size:40" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LastProgressAt *time.Time `gorm:"index" json:"-"`
}

// Snapshot returns the non-blocking status view of the task.
func (t *Task) Snapshot() Progress {
	return Progress{Fraction: t.Progress, Note: t.ProgressNote}
}

// Artifact returns the completed result, or nil if the task is not completed.
func (t *Task) Artifact() *Artifact {
	if t.State != StateCompleted {
		return nil
	}
	return &Artifact{
		Path:    t.ResultPath,
		Data:    t.ResultData,
		Model:   t.ResultModel,
		Seed:    t.ResultSeed,
		Elapsed: t.ResultElapsed,
	}
}

// Err returns the failure record, or nil if the task has not failed.
func (t *Task) Err() *TaskError {
	if t.State != StateFailed {
		return nil
	}
	return &TaskError{Kind: t.ErrorKind, Message: t.ErrorMessage}
}
