package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"renderflow/pkg/core"
)

// RunState is the lifecycle state of a persisted workflow run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCanceled  RunState = "canceled"
)

// Terminal reports whether a run state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCanceled
}

// Run is the durable record of one workflow execution.
type Run struct {
	ID    string   `gorm:"primaryKey;size:128" json:"id"`
	Type  string   `gorm:"index;size:64" json:"type"`
	Queue string   `gorm:"index;size:255;default:'default'" json:"queue"`
	State RunState `gorm:"index;size:20;default:'pending'" json:"state"`

	Input  []byte `json:"input,omitempty"`
	Output []byte `json:"output,omitempty"`

	ErrorKind    core.ErrorKind `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`

	LockedBy    string     `gorm:"index;size:255" json:"-"`
	LockedUntil *time.Time `json:"-"`

	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStore persists workflow runs. Dequeue hands each pending run to at
// most one worker via a time-bounded lock.
type RunStore interface {
	// Enqueue records a new pending run. Re-using the id of a run that
	// is still open fails with core.ErrWorkflowIDInUse.
	Enqueue(ctx context.Context, run *Run) error
	// Dequeue claims the oldest pending run on the queue for workerID,
	// or returns nil when none is available.
	Dequeue(ctx context.Context, queue, workerID string) (*Run, error)
	// ExtendLock pushes the claim deadline of a run forward for the
	// worker that holds it, or returns core.ErrNotFound.
	ExtendLock(ctx context.Context, id, workerID string) error
	// ReleaseStaleLocks returns running runs whose lock expired to
	// pending so another worker can claim them. It reports how many
	// runs were released.
	ReleaseStaleLocks(ctx context.Context, queue string) (int, error)
	Complete(ctx context.Context, id, workerID string, output []byte) error
	Fail(ctx context.Context, id, workerID string, kind core.ErrorKind, message string) error
	Cancel(ctx context.Context, id, workerID string) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, queue string) ([]*Run, error)
}

// LockDuration is how long a dequeued run stays claimed without an
// ExtendLock. Workers extend well inside this window; a run whose lock
// expires is presumed orphaned by a crashed worker.
const LockDuration = 5 * time.Minute

// GormRunStore is the database-backed run store.
type GormRunStore struct {
	db *gorm.DB
}

// NewGormRunStore creates a run store on an open gorm handle.
func NewGormRunStore(db *gorm.DB) *GormRunStore {
	return &GormRunStore{db: db}
}

// Migrate creates the runs table.
func (s *GormRunStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Run{})
}

func (s *GormRunStore) Enqueue(ctx context.Context, run *Run) error {
	if run.Queue == "" {
		run.Queue = "default"
	}
	if run.State == "" {
		run.State = RunPending
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Run
		err := tx.First(&existing, "id = ?", run.ID).Error
		switch {
		case err == nil:
			if !existing.State.Terminal() {
				return core.ErrWorkflowIDInUse
			}
			// A closed run may be superseded by a fresh one under the
			// same id.
			return tx.Save(run).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(run).Error
		default:
			return err
		}
	})
}

func (s *GormRunStore) Dequeue(ctx context.Context, queue, workerID string) (*Run, error) {
	var run Run
	now := time.Now()
	lockUntil := now.Add(LockDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("queue = ?", queue).
			Where("state = ?", RunPending).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			First(&run)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		run.State = RunRunning
		run.LockedBy = workerID
		run.LockedUntil = &lockUntil
		run.StartedAt = &now
		return tx.Save(&run).Error
	})
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, nil
	}
	return &run, nil
}

func (s *GormRunStore) ExtendLock(ctx context.Context, id, workerID string) error {
	lockUntil := time.Now().Add(LockDuration)
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND locked_by = ? AND state = ?", id, workerID, RunRunning).
		Update("locked_until", lockUntil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *GormRunStore) ReleaseStaleLocks(ctx context.Context, queue string) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("queue = ? AND state = ?", queue, RunRunning).
		Where("locked_until IS NOT NULL AND locked_until < ?", time.Now()).
		Updates(map[string]any{
			"state":        RunPending,
			"locked_by":    "",
			"locked_until": nil,
		})
	return int(result.RowsAffected), result.Error
}

func (s *GormRunStore) Complete(ctx context.Context, id, workerID string, output []byte) error {
	return s.finish(ctx, id, workerID, map[string]any{
		"state":  RunCompleted,
		"output": output,
	})
}

func (s *GormRunStore) Fail(ctx context.Context, id, workerID string, kind core.ErrorKind, message string) error {
	return s.finish(ctx, id, workerID, map[string]any{
		"state":         RunFailed,
		"error_kind":    kind,
		"error_message": message,
	})
}

func (s *GormRunStore) Cancel(ctx context.Context, id, workerID string) error {
	return s.finish(ctx, id, workerID, map[string]any{
		"state":      RunCanceled,
		"error_kind": core.KindCanceled,
	})
}

func (s *GormRunStore) finish(ctx context.Context, id, workerID string, updates map[string]any) error {
	now := time.Now()
	updates["finished_at"] = now
	updates["locked_by"] = ""
	updates["locked_until"] = nil

	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *GormRunStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *GormRunStore) List(ctx context.Context, queue string) ([]*Run, error) {
	var runs []*Run
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// MemoryRunStore keeps runs in process memory. It backs tests and
// single-process deployments where durability across restarts is not
// needed.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

func (s *MemoryRunStore) Enqueue(_ context.Context, run *Run) error {
	if run.Queue == "" {
		run.Queue = "default"
	}
	if run.State == "" {
		run.State = RunPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok && !existing.State.Terminal() {
		return core.ErrWorkflowIDInUse
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryRunStore) Dequeue(_ context.Context, queue, workerID string) (*Run, error) {
	now := time.Now()
	lockUntil := now.Add(LockDuration)

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Run
	for _, run := range s.runs {
		if run.Queue != queue || run.State != RunPending {
			continue
		}
		if run.LockedUntil != nil && run.LockedUntil.After(now) {
			continue
		}
		if oldest == nil || run.CreatedAt.Before(oldest.CreatedAt) {
			oldest = run
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.State = RunRunning
	oldest.LockedBy = workerID
	oldest.LockedUntil = &lockUntil
	oldest.StartedAt = &now
	claimed := *oldest
	return &claimed, nil
}

func (s *MemoryRunStore) ExtendLock(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok || run.LockedBy != workerID || run.State != RunRunning {
		return core.ErrNotFound
	}
	lockUntil := time.Now().Add(LockDuration)
	run.LockedUntil = &lockUntil
	return nil
}

func (s *MemoryRunStore) ReleaseStaleLocks(_ context.Context, queue string) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, run := range s.runs {
		if run.Queue != queue || run.State != RunRunning {
			continue
		}
		if run.LockedUntil == nil || run.LockedUntil.After(now) {
			continue
		}
		run.State = RunPending
		run.LockedBy = ""
		run.LockedUntil = nil
		released++
	}
	return released, nil
}

func (s *MemoryRunStore) Complete(_ context.Context, id, workerID string, output []byte) error {
	return s.finish(id, workerID, func(run *Run) {
		run.State = RunCompleted
		run.Output = output
	})
}

func (s *MemoryRunStore) Fail(_ context.Context, id, workerID string, kind core.ErrorKind, message string) error {
	return s.finish(id, workerID, func(run *Run) {
		run.State = RunFailed
		run.ErrorKind = kind
		run.ErrorMessage = message
	})
}

func (s *MemoryRunStore) Cancel(_ context.Context, id, workerID string) error {
	return s.finish(id, workerID, func(run *Run) {
		run.State = RunCanceled
		run.ErrorKind = core.KindCanceled
	})
}

func (s *MemoryRunStore) finish(id, workerID string, apply func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok || run.LockedBy != workerID {
		return core.ErrNotFound
	}
	apply(run)
	now := time.Now()
	run.FinishedAt = &now
	run.LockedBy = ""
	run.LockedUntil = nil
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	snapshot := *run
	return &snapshot, nil
}

func (s *MemoryRunStore) List(_ context.Context, queue string) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if queue != "" && run.Queue != queue {
			continue
		}
		snapshot := *run
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
