package postgres

import (
	"context"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type taskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *taskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	if task.Version == 0 {
		task.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(task).Error)
}

func (r *taskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (r *taskRepository) Update(ctx context.Context, task *domain.Task) error {
	return updateVersioned(ctx, r.db, task, &task.Version, "id", task.ID)
}

func (r *taskRepository) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	return deleteVersioned(ctx, r.db, &domain.Task{}, version, "id", id)
}

func (r *taskRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&tasks).Error
	if err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}

func (r *taskRepository) ListPoked(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_poked = ?", userID, true).
		Order("created_at, id").
		Find(&tasks).Error
	if err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}
