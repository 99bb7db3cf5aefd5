// Package memory is an in-process document store with the same contract as
// the postgres repositories. It backs the memory store driver and tests.
package memory

import (
	"context"
	"sync"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

// Store keeps each table as a map of value copies so callers never alias
// stored documents.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users         *table[uuid.UUID, domain.User]
	sessions      *table[uuid.UUID, domain.UserSession]
	pairs         *table[string, domain.BuddyPair]
	studySessions *table[uuid.UUID, domain.SoloStudySession]
	buddySessions *table[uuid.UUID, domain.BuddyStudySession]
	pokes         *table[uuid.UUID, domain.GeneralPoke]
	tasks         *table[uuid.UUID, domain.Task]
}

func NewStore() *Store {
	return &Store{
		users:         newTable[uuid.UUID](func(u *domain.User) *int64 { return &u.Version }),
		sessions:      newTable[uuid.UUID, domain.UserSession](nil),
		pairs:         newTable[string](func(p *domain.BuddyPair) *int64 { return &p.Version }),
		studySessions: newTable[uuid.UUID](func(s *domain.SoloStudySession) *int64 { return &s.Version }),
		buddySessions: newTable[uuid.UUID](func(s *domain.BuddyStudySession) *int64 { return &s.Version }),
		pokes:         newTable[uuid.UUID](func(p *domain.GeneralPoke) *int64 { return &p.Version }),
		tasks:         newTable[uuid.UUID](func(t *domain.Task) *int64 { return &t.Version }),
	}
}

// NewRepositories returns repositories backed by a fresh store.
func NewRepositories() *repository.Repositories {
	return NewStore().Repositories()
}

// Repositories returns the non-transactional view of the store.
func (s *Store) Repositories() *repository.Repositories {
	repos := s.bind(nil)
	repos.Tx = s
	return repos
}

func (s *Store) bind(undo *undoLog) *repository.Repositories {
	return &repository.Repositories{
		User:         &userRepository{s: s, undo: undo},
		Session:      &sessionRepository{s: s, undo: undo},
		Pair:         &pairRepository{s: s, undo: undo},
		StudySession: &studySessionRepository{s: s, undo: undo},
		BuddySession: &buddySessionRepository{s: s, undo: undo},
		Poke:         &pokeRepository{s: s, undo: undo},
		Task:         &taskRepository{s: s, undo: undo},
	}
}

// WithinTx serializes transactions and rolls back every write made through
// the bound repositories when fn fails. Writes made outside a transaction may
// interleave; callers serialize conflicting commands with their own locks.
func (s *Store) WithinTx(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	undo := &undoLog{}
	repos := s.bind(undo)
	repos.Tx = nestedTx{repos: repos}

	if err := fn(repos); err != nil {
		s.mu.Lock()
		undo.rollback()
		s.mu.Unlock()
		return err
	}
	return nil
}

// nestedTx flattens a transaction started from inside another one.
type nestedTx struct {
	repos *repository.Repositories
}

func (n nestedTx) WithinTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	return fn(n.repos)
}

type undoLog struct {
	ops []func()
}

func (l *undoLog) add(op func()) {
	if l == nil {
		return
	}
	l.ops = append(l.ops, op)
}

func (l *undoLog) rollback() {
	for i := len(l.ops) - 1; i >= 0; i-- {
		l.ops[i]()
	}
	l.ops = nil
}

// table is a keyed set of documents. version may be nil for unversioned rows.
type table[K comparable, V any] struct {
	rows    map[K]V
	version func(*V) *int64
}

func newTable[K comparable, V any](version func(*V) *int64) *table[K, V] {
	return &table[K, V]{rows: make(map[K]V), version: version}
}

func (t *table[K, V]) get(key K) (*V, error) {
	row, ok := t.rows[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (t *table[K, V]) filter(match func(*V) bool) []*V {
	var out []*V
	for _, row := range t.rows {
		r := row
		if match(&r) {
			out = append(out, &r)
		}
	}
	return out
}

func (t *table[K, V]) exists(match func(*V) bool) bool {
	for _, row := range t.rows {
		r := row
		if match(&r) {
			return true
		}
	}
	return false
}

func (t *table[K, V]) insert(key K, row *V, undo *undoLog) error {
	if _, ok := t.rows[key]; ok {
		return repository.ErrDuplicate
	}
	if t.version != nil && *t.version(row) == 0 {
		*t.version(row) = 1
	}
	t.rows[key] = *row
	undo.add(func() { delete(t.rows, key) })
	return nil
}

func (t *table[K, V]) update(key K, row *V, undo *undoLog) error {
	current, ok := t.rows[key]
	if !ok {
		return repository.ErrNotFound
	}
	if t.version != nil {
		if *t.version(&current) != *t.version(row) {
			return repository.ErrVersionConflict
		}
		*t.version(row)++
	}
	t.rows[key] = *row
	undo.add(func() { t.rows[key] = current })
	return nil
}

func (t *table[K, V]) remove(key K, version int64, undo *undoLog) error {
	current, ok := t.rows[key]
	if !ok {
		return repository.ErrNotFound
	}
	if t.version != nil && version != 0 && *t.version(&current) != version {
		return repository.ErrVersionConflict
	}
	delete(t.rows, key)
	undo.add(func() { t.rows[key] = current })
	return nil
}
