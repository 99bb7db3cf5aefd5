package postgres

import (
	"context"
	"errors"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table owned by the service, in migration order.
var Models = []any{
	&domain.User{},
	&domain.UserSession{},
	&domain.BuddyPair{},
	&domain.SoloStudySession{},
	&domain.BuddyStudySession{},
	&domain.GeneralPoke{},
	&domain.Task{},
}

func NewConnection(databaseURL string, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models...); err != nil {
		return nil, err
	}

	return db, nil
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		User:         NewUserRepository(db),
		Session:      NewSessionRepository(db),
		Pair:         NewPairRepository(db),
		StudySession: NewStudySessionRepository(db),
		BuddySession: NewBuddySessionRepository(db),
		Poke:         NewPokeRepository(db),
		Task:         NewTaskRepository(db),
		Tx:           &transactor{db: db},
	}
}

type transactor struct {
	db *gorm.DB
}

// WithinTx runs fn in a database transaction. Nested calls use savepoints.
func (t *transactor) WithinTx(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repository.ErrDuplicate
	default:
		return err
	}
}

// updateVersioned writes every column of model if the stored row still has
// the version the caller read. version points at model's Version field.
func updateVersioned(ctx context.Context, db *gorm.DB, model any, version *int64, pkColumn string, pk any) error {
	expected := *version
	*version = expected + 1

	res := db.WithContext(ctx).
		Model(model).
		Where(pkColumn+" = ? AND version = ?", pk, expected).
		Select("*").
		Updates(model)
	if res.Error != nil {
		*version = expected
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		*version = expected
		return missingOrConflict(ctx, db, model, pkColumn, pk)
	}
	return nil
}

// deleteVersioned removes the row if it still carries version.
func deleteVersioned(ctx context.Context, db *gorm.DB, model any, version int64, pkColumn string, pk any) error {
	res := db.WithContext(ctx).
		Where(pkColumn+" = ? AND version = ?", pk, version).
		Delete(model)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return missingOrConflict(ctx, db, model, pkColumn, pk)
	}
	return nil
}

func missingOrConflict(ctx context.Context, db *gorm.DB, model any, pkColumn string, pk any) error {
	var count int64
	if err := db.WithContext(ctx).Model(model).Where(pkColumn+" = ?", pk).Count(&count).Error; err != nil {
		return translate(err)
	}
	if count == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrVersionConflict
}
