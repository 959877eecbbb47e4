package taskstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"renderflow/pkg/core"
)

// GormStore persists task records through GORM. The read-modify-write in
// Update runs inside a transaction, which serializes mutations per id.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the task table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Task{})
}

func (s *GormStore) Create(ctx context.Context, task *core.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.Task
		err := tx.First(&existing, "id = ?", task.ID).Error
		switch {
		case err == nil:
			return core.ErrTaskExists
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(task).Error
		default:
			return err
		}
	})
}

func (s *GormStore) Get(ctx context.Context, id string) (*core.Task, error) {
	var task core.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *GormStore) Update(ctx context.Context, id string, fn Mutation) (*core.Task, error) {
	var updated *core.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before core.Task
		if err := tx.First(&before, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}

		next := clone(&before)
		if err := fn(next); err != nil {
			return err
		}
		if err := validateMutation(&before, next); err != nil {
			return err
		}

		if err := tx.Save(next).Error; err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *GormStore) List(ctx context.Context) ([]*core.Task, error) {
	var tasks []*core.Task
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error
	return tasks, err
}
