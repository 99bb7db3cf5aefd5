package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/dom/studybuddy/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(name string) *domain.User {
	return &domain.User{ID: uuid.New(), DisplayName: name, PasswordHash: "x"}
}

func TestUserRepository_CompareAndSet(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()

	user := newUser("alice")
	require.NoError(t, repos.User.Create(ctx, user))
	assert.Equal(t, int64(1), user.Version)

	first, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	second, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)

	first.StudyStats.DailySeconds = 10
	require.NoError(t, repos.User.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.StudyStats.DailySeconds = 20
	err = repos.User.Update(ctx, second)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	stored, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.StudyStats.DailySeconds)
}

func TestUserRepository_DuplicateDisplayName(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()

	require.NoError(t, repos.User.Create(ctx, newUser("bob")))
	err := repos.User.Create(ctx, newUser("bob"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()

	user := newUser("carol")
	require.NoError(t, repos.User.Create(ctx, user))

	got, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	got.DisplayName = "mutated"

	again, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", again.DisplayName)
}

func TestPairRepository_KeyIsUnique(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, repos.Pair.Create(ctx, domain.NewBuddyPair(a, b, time.Now())))
	err := repos.Pair.Create(ctx, domain.NewBuddyPair(b, a, time.Now()))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	pairs, err := repos.Pair.ListByUser(ctx, b)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, a, pairs[0].InitiatorID)
}

func TestPairRepository_DeleteChecksVersion(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	pair := domain.NewBuddyPair(uuid.New(), uuid.New(), time.Now())
	require.NoError(t, repos.Pair.Create(ctx, pair))

	assert.ErrorIs(t, repos.Pair.Delete(ctx, pair.Key, 7), repository.ErrVersionConflict)
	require.NoError(t, repos.Pair.Delete(ctx, pair.Key, pair.Version))
	assert.ErrorIs(t, repos.Pair.Delete(ctx, pair.Key, pair.Version), repository.ErrNotFound)
}

func TestStudySessionRepository_OneActivePerUser(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	first := domain.NewSoloStudySession(userID, "math", now)
	require.NoError(t, repos.StudySession.Create(ctx, first))

	err := repos.StudySession.Create(ctx, domain.NewSoloStudySession(userID, "physics", now))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	first.Close(now.Add(time.Minute))
	require.NoError(t, repos.StudySession.Update(ctx, first))
	require.NoError(t, repos.StudySession.Create(ctx, domain.NewSoloStudySession(userID, "physics", now)))

	history, err := repos.StudySession.ListByUser(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestBuddySessionRepository_OneOpenPerPair(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	first := domain.NewBuddyStudySession(a, b, "essay", 1800, now)
	require.NoError(t, repos.BuddySession.Create(ctx, first))

	err := repos.BuddySession.Create(ctx, domain.NewBuddyStudySession(b, a, "essay", 600, now))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	open, err := repos.BuddySession.GetOpenByPair(ctx, domain.PairKey(a, b))
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	first.Close(domain.BuddySessionRejected, 0, now)
	require.NoError(t, repos.BuddySession.Update(ctx, first))

	_, err = repos.BuddySession.GetOpenByPair(ctx, domain.PairKey(a, b))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, repos.BuddySession.Create(ctx, domain.NewBuddyStudySession(b, a, "essay", 600, now)))
}

func TestPokeRepository_ListUnreadNewestFirst(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	from, to := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{time.Minute, 3 * time.Minute, 2 * time.Minute} {
		require.NoError(t, repos.Poke.Create(ctx, &domain.GeneralPoke{
			ID:         uuid.New(),
			FromUserID: from,
			ToUserID:   to,
			Message:    string(rune('a' + i)),
			Timestamp:  base.Add(offset),
		}))
	}

	pokes, err := repos.Poke.ListUnread(ctx, to)
	require.NoError(t, err)
	require.Len(t, pokes, 3)
	assert.Equal(t, "b", pokes[0].Message)
	assert.Equal(t, "c", pokes[1].Message)
	assert.Equal(t, "a", pokes[2].Message)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()

	user := newUser("dave")
	require.NoError(t, repos.User.Create(ctx, user))

	boom := errors.New("boom")
	err := repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		u, err := tx.User.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		u.StudyStats.TotalSecondsStudied = 99
		if err := tx.User.Update(ctx, u); err != nil {
			return err
		}
		if err := tx.Pair.Create(ctx, domain.NewBuddyPair(user.ID, uuid.New(), time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.StudyStats.TotalSecondsStudied)
	assert.Equal(t, int64(1), stored.Version)

	pairs, err := repos.Pair.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestStore_WithinTxCommits(t *testing.T) {
	repos := memory.NewRepositories()
	ctx := context.Background()
	user := newUser("erin")
	require.NoError(t, repos.User.Create(ctx, user))

	err := repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		return tx.Tx.WithinTx(ctx, func(inner *repository.Repositories) error {
			u, err := inner.User.GetByID(ctx, user.ID)
			if err != nil {
				return err
			}
			u.StudyStats.DailySeconds = 5
			return inner.User.Update(ctx, u)
		})
	})
	require.NoError(t, err)

	stored, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.StudyStats.DailySeconds)
}
