package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/clock"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/keylock"
	"github.com/dom/studybuddy/internal/metrics"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

// Sender accepts push notifications for asynchronous delivery.
type Sender interface {
	Send(n notify.Notification)
}

type nopSender struct{}

func (nopSender) Send(notify.Notification) {}

// Deps are the collaborators shared by every engine.
type Deps struct {
	Repos    *repository.Repositories
	Clock    clock.Clock
	Locks    *keylock.Locker
	Feed     *changefeed.Feed
	Notifier Sender
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	Location *time.Location
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Locks == nil {
		d.Locks = keylock.New(keylock.DefaultStripes)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Feed == nil {
		d.Feed = changefeed.New(d.Metrics)
	}
	if d.Notifier == nil {
		d.Notifier = nopSender{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return d
}

const maxCommandAttempts = 5

// engine runs commands. A command locks every user it touches, then reads,
// validates and writes inside one store transaction. Changes are published
// after commit while the locks are still held, so per-entity publish order
// matches commit order. After-commit hooks and notifications run once the
// locks are released.
type engine struct {
	repos   *repository.Repositories
	clock   clock.Clock
	locks   *keylock.Locker
	feed    *changefeed.Feed
	sender  Sender
	metrics metrics.Recorder
	logger  *slog.Logger
	loc     *time.Location
}

func newEngine(d Deps, component string) *engine {
	d = d.withDefaults()
	return &engine{
		repos:   d.Repos,
		clock:   d.Clock,
		locks:   d.Locks,
		feed:    d.Feed,
		sender:  d.Notifier,
		metrics: d.Metrics,
		logger:  d.Logger.With("component", component),
		loc:     d.Location,
	}
}

// txn is the state of one command attempt.
type txn struct {
	ctx   context.Context
	repos *repository.Repositories
	now   time.Time
	loc   *time.Location

	changes []changefeed.Change
	notes   []notify.Notification
	after   []func()
}

func (t *txn) emit(c changefeed.Change) {
	c.At = t.now
	t.changes = append(t.changes, c)
}

func (t *txn) notify(n notify.Notification) {
	n.At = t.now
	t.notes = append(t.notes, n)
}

// afterCommit registers f to run after the command's locks are released.
func (t *txn) afterCommit(f func()) {
	t.after = append(t.after, f)
}

func (e *engine) run(ctx context.Context, command string, ids []uuid.UUID, fn func(t *txn) error) error {
	start := time.Now()

	unlock := e.locks.Lock(ids...)
	var committed *txn
	attempt := 0

	op := func() error {
		attempt++
		if attempt > 1 {
			e.metrics.RecordRetry(command)
		}

		t := &txn{ctx: ctx, now: e.clock.Now(), loc: e.loc}
		err := e.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
			t.repos = repos
			return fn(t)
		})
		if err == nil {
			committed = t
			return nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxCommandAttempts-1), ctx))

	if err == nil {
		for _, c := range committed.changes {
			e.feed.Publish(c)
		}
	}
	unlock()

	e.metrics.RecordCommand(command, outcome(err), time.Since(start))

	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			e.logger.Error("command failed", "command", command, "attempts", attempt, "error", err)
			return fmt.Errorf("%s: %w", command, err)
		}
		return err
	}

	for _, f := range committed.after {
		f()
	}
	for _, n := range committed.notes {
		e.sender.Send(n)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if de, ok := domain.AsError(err); ok {
		return de.Code
	}
	return "error"
}

// mapNotFound converts a store miss into the given domain error.
func mapNotFound(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return err
}

func (t *txn) user(id uuid.UUID) (*domain.User, error) {
	u, err := t.repos.User.GetByID(t.ctx, id)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	return u, nil
}

// saveUser writes u and publishes its stats to the user, their buddy and
// any extra audience.
func (t *txn) saveUser(u *domain.User, extra ...uuid.UUID) error {
	u.UpdatedAt = t.now
	if err := t.repos.User.Update(t.ctx, u); err != nil {
		return err
	}
	audience := []uuid.UUID{u.ID}
	if u.BuddyID != nil {
		audience = append(audience, *u.BuddyID)
	}
	for _, id := range extra {
		if !containsID(audience, id) {
			audience = append(audience, id)
		}
	}
	t.emit(changefeed.Change{
		Kind:     changefeed.KindUserStats,
		EntityID: u.ID.String(),
		Version:  u.Version,
		Op:       changefeed.OpUpsert,
		Audience: audience,
		Document: *u,
	})
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// participantsOf reads a document outside any lock to learn which users a
// command must lock. The document is read again under the locks.
func participantsOf[T any](ctx context.Context, get func(context.Context, uuid.UUID) (T, error), id uuid.UUID, notFound error, ids func(T) []uuid.UUID) ([]uuid.UUID, error) {
	doc, err := get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, notFound)
	}
	return ids(doc), nil
}
