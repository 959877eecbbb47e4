package taskstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"renderflow/pkg/core"
)

// MemoryStore keeps records in process memory. Each record carries its
// own lock so updates to different ids never contend.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*memoryEntry
}

type memoryEntry struct {
	mu   sync.Mutex
	task core.Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(ctx context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return core.ErrTaskExists
	}
	stored := clone(task)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.tasks[task.ID] = &memoryEntry{task: *stored}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return clone(&entry.task), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn Mutation) (*core.Task, error) {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	updated := clone(&entry.task)
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := validateMutation(&entry.task, updated); err != nil {
		return nil, err
	}
	entry.task = *updated
	return clone(updated), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*core.Task, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*core.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, clone(&e.task))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
