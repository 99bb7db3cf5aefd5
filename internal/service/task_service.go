package service

import (
	"context"
	"strings"
	"time"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
)

// TaskService manages to-do items. While the owner is paired only the buddy
// can mark a task done, and only the buddy can poke it.
type TaskService struct {
	*engine
}

func NewTaskService(d Deps) *TaskService {
	return &TaskService{engine: newEngine(d, "task")}
}

type CreateTaskInput struct {
	UserID  uuid.UUID
	Name    string
	Effort  domain.EffortLevel
	DueDate *time.Time
}

func taskChange(task *domain.Task, audience []uuid.UUID) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindTask,
		EntityID: task.ID.String(),
		Version:  task.Version,
		Op:       changefeed.OpUpsert,
		Audience: audience,
		Document: *task,
	}
}

func taskDeleted(task *domain.Task, audience []uuid.UUID) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindTask,
		EntityID: task.ID.String(),
		Version:  task.Version + 1,
		Op:       changefeed.OpDelete,
		Audience: audience,
	}
}

func (s *TaskService) Create(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	effort := input.Effort
	if effort == "" {
		effort = domain.EffortMedium
	}
	if !effort.IsValid() {
		return nil, domain.ErrInvalidInput
	}

	var result *domain.Task
	err := s.run(ctx, "task.create", []uuid.UUID{input.UserID}, func(t *txn) error {
		owner, err := t.user(input.UserID)
		if err != nil {
			return err
		}
		task := &domain.Task{
			ID:        uuid.New(),
			UserID:    owner.ID,
			Name:      name,
			Effort:    effort,
			DueDate:   input.DueDate,
			Version:   1,
			CreatedAt: t.now,
		}
		if err := t.repos.Task.Create(t.ctx, task); err != nil {
			return err
		}
		t.emit(taskChange(task, audienceOf(owner)))
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns ownerID's tasks. The viewer must be the owner or their buddy.
func (s *TaskService) List(ctx context.Context, viewerID, ownerID uuid.UUID) ([]*domain.Task, error) {
	if viewerID != ownerID {
		owner, err := s.repos.User.GetByID(ctx, ownerID)
		if err != nil {
			return nil, mapNotFound(err, domain.ErrUserNotFound)
		}
		if !owner.IsBuddyOf(viewerID) {
			return nil, domain.ErrNotPaired
		}
	}
	return s.repos.Task.ListByUser(ctx, ownerID)
}

// mutate locks the task owner and the actor, then runs fn with the fresh
// task and owner documents.
func (s *TaskService) mutate(ctx context.Context, command string, taskID, actorID uuid.UUID, fn func(t *txn, task *domain.Task, owner *domain.User) error) error {
	ids, err := participantsOf(ctx, s.repos.Task.GetByID, taskID, domain.ErrTaskNotFound, func(task *domain.Task) []uuid.UUID {
		return []uuid.UUID{task.UserID, actorID}
	})
	if err != nil {
		return err
	}
	return s.run(ctx, command, ids, func(t *txn) error {
		task, err := t.repos.Task.GetByID(t.ctx, taskID)
		if err != nil {
			return mapNotFound(err, domain.ErrTaskNotFound)
		}
		owner, err := t.user(task.UserID)
		if err != nil {
			return err
		}
		return fn(t, task, owner)
	})
}

// ToggleComplete flips completion. A paired owner cannot complete their own
// tasks; an unpaired owner is the only one who can.
func (s *TaskService) ToggleComplete(ctx context.Context, taskID, actorID uuid.UUID) (*domain.Task, error) {
	var result *domain.Task
	err := s.mutate(ctx, "task.toggle", taskID, actorID, func(t *txn, task *domain.Task, owner *domain.User) error {
		switch {
		case owner.HasBuddy() && !owner.IsBuddyOf(actorID):
			return domain.ErrBuddyOnly
		case !owner.HasBuddy() && owner.ID != actorID:
			return domain.ErrNotOwner
		}

		task.Completed = !task.Completed
		if task.Completed {
			done := t.now
			task.CompletedAt = &done
			task.IsPoked = false
		} else {
			task.CompletedAt = nil
		}
		if err := t.repos.Task.Update(t.ctx, task); err != nil {
			return err
		}
		t.emit(taskChange(task, audienceOf(owner)))
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetPoke sets or clears the poke flag on a buddy's task.
func (s *TaskService) SetPoke(ctx context.Context, taskID, actorID uuid.UUID, poked bool) (*domain.Task, error) {
	var result *domain.Task
	err := s.mutate(ctx, "task.poke", taskID, actorID, func(t *txn, task *domain.Task, owner *domain.User) error {
		if !owner.IsBuddyOf(actorID) {
			return domain.ErrNotPaired
		}
		result = task
		if task.IsPoked == poked {
			return nil
		}
		task.IsPoked = poked
		if err := t.repos.Task.Update(t.ctx, task); err != nil {
			return err
		}
		t.emit(taskChange(task, audienceOf(owner)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TaskService) IsPoked(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.repos.Task.GetByID(ctx, taskID)
	if err != nil {
		return false, mapNotFound(err, domain.ErrTaskNotFound)
	}
	return task.IsPoked, nil
}

// Delete removes a task. Only the owner may delete it.
func (s *TaskService) Delete(ctx context.Context, taskID, actorID uuid.UUID) error {
	return s.mutate(ctx, "task.delete", taskID, actorID, func(t *txn, task *domain.Task, owner *domain.User) error {
		if owner.ID != actorID {
			return domain.ErrNotOwner
		}
		if err := t.repos.Task.Delete(t.ctx, task.ID, task.Version); err != nil {
			return mapNotFound(err, domain.ErrTaskNotFound)
		}
		t.emit(taskDeleted(task, audienceOf(owner)))
		return nil
	})
}

// ClearPokeFlags resets every poked task of userID.
func (s *TaskService) ClearPokeFlags(ctx context.Context, userID uuid.UUID) (int, error) {
	cleared := 0
	err := s.run(ctx, "task.clear_pokes", []uuid.UUID{userID}, func(t *txn) error {
		owner, err := t.user(userID)
		if err != nil {
			return err
		}
		cleared, err = s.clearPokeFlagsLocked(t, userID, audienceOf(owner)...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// clearPokeFlagsLocked runs inside a command that already holds userID's lock.
func (s *TaskService) clearPokeFlagsLocked(t *txn, userID uuid.UUID, audience ...uuid.UUID) (int, error) {
	tasks, err := t.repos.Task.ListPoked(t.ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		task.IsPoked = false
		if err := t.repos.Task.Update(t.ctx, task); err != nil {
			return 0, err
		}
		t.emit(taskChange(task, audience))
	}
	return len(tasks), nil
}
