package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudyService_Start(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		taskName string
		before   func(h *testutil.Harness, userID uuid.UUID)
		wantErr  *domain.Error
	}{
		{
			name:     "starts session",
			taskName: "  organic chemistry ",
		},
		{
			name:     "blank task name",
			taskName: "   ",
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "already studying",
			taskName: "physics",
			before: func(h *testutil.Harness, userID uuid.UUID) {
				_, err := h.Services.Study.Start(ctx, userID, "history")
				require.NoError(t, err)
			},
			wantErr: domain.ErrAlreadyStudying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewHarness(t)
			user := newUsers(t, h, 1)[0]
			if tt.before != nil {
				tt.before(h, user.ID)
			}

			session, err := h.Services.Study.Start(ctx, user.ID, tt.taskName)
			if tt.wantErr != nil {
				testutil.AssertDomainError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, session.IsActive)
			assert.Equal(t, "organic chemistry", session.TaskName)
			assert.Equal(t, testutil.Epoch, session.StartTime)

			stats := reload(t, h, user.ID).StudyStats
			assert.True(t, stats.IsCurrentlyStudying)
			require.NotNil(t, stats.CurrentSessionID)
			assert.Equal(t, session.ID, *stats.CurrentSessionID)
			assert.Equal(t, "organic chemistry", stats.CurrentTaskName)
		})
	}
}

func TestStudyService_Stop(t *testing.T) {
	h := testutil.NewHarness(t)
	users := newUsers(t, h, 2)
	owner, other := users[0], users[1]
	ctx := context.Background()

	session, err := h.Services.Study.Start(ctx, owner.ID, "reading")
	require.NoError(t, err)
	h.Clock.Advance(25*time.Minute + 700*time.Millisecond)

	_, err = h.Services.Study.Stop(ctx, other.ID, session.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotOwner)

	_, err = h.Services.Study.Stop(ctx, owner.ID, uuid.New())
	testutil.AssertDomainError(t, err, domain.ErrSessionNotFound)

	stopped, err := h.Services.Study.Stop(ctx, owner.ID, session.ID)
	require.NoError(t, err)
	assert.False(t, stopped.IsActive)
	assert.Equal(t, int64(1500), stopped.DurationSeconds, "whole seconds only")
	require.NotNil(t, stopped.EndTime)

	stats := reload(t, h, owner.ID).StudyStats
	assert.False(t, stats.IsCurrentlyStudying)
	assert.Nil(t, stats.CurrentSessionID)
	assert.Empty(t, stats.CurrentTaskName)
	assert.Equal(t, int64(1500), stats.DailySeconds)
	assert.Equal(t, int64(1500), stats.TotalSecondsStudied)
	assert.Equal(t, int64(1), stats.StudySessionsCompleted)

	_, err = h.Services.Study.Stop(ctx, owner.ID, session.ID)
	testutil.AssertDomainError(t, err, domain.ErrSessionNotFound, "second stop")

	active, err := h.Services.Study.ActiveSession(ctx, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStudyService_DailyRollover(t *testing.T) {
	h := testutil.NewHarness(t)
	user := newUsers(t, h, 1)[0]
	ctx := context.Background()

	study := func(d time.Duration) {
		t.Helper()
		session, err := h.Services.Study.Start(ctx, user.ID, "exam prep")
		require.NoError(t, err)
		h.Clock.Advance(d)
		_, err = h.Services.Study.Stop(ctx, user.ID, session.ID)
		require.NoError(t, err)
	}

	study(time.Hour)
	study(30 * time.Minute)
	stats := reload(t, h, user.ID).StudyStats
	assert.Equal(t, int64(5400), stats.DailySeconds)
	assert.Equal(t, int64(1), stats.TotalHoursStudied)

	h.Clock.Advance(24 * time.Hour)

	before := reload(t, h, user.ID)
	snapshot, err := h.Services.Study.DailySnapshot(ctx, user.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.DailySeconds, "stale bucket reads as zero")

	again, err := h.Services.Study.DailySnapshot(ctx, user.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot, again)
	assert.Equal(t, before.Version, reload(t, h, user.ID).Version, "snapshots never write")

	study(10 * time.Minute)
	stats = reload(t, h, user.ID).StudyStats
	assert.Equal(t, int64(600), stats.DailySeconds, "replaced, not added")
	assert.Equal(t, int64(6000), stats.TotalSecondsStudied)
	assert.Equal(t, int64(3), stats.StudySessionsCompleted)
}

func TestStudyService_RolloverAtMidnight(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)
	user := newUsers(t, h, 1)[0]

	// Studied at 23:30 UTC, read back at 00:30 the next day.
	h.Clock.Set(time.Date(2024, time.March, 4, 23, 30, 0, 0, time.UTC))
	session, err := h.Services.Study.Start(ctx, user.ID, "kanji")
	require.NoError(t, err)
	h.Clock.Advance(10 * time.Minute)
	_, err = h.Services.Study.Stop(ctx, user.ID, session.ID)
	require.NoError(t, err)

	h.Clock.Advance(50 * time.Minute)
	snapshot, err := h.Services.Study.DailySnapshot(ctx, user.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.DailySeconds, "UTC day changed")
}

func TestStudyService_Visibility(t *testing.T) {
	h, a, b := pairedUsers(t)
	stranger := newUsers(t, h, 1)[0]
	ctx := context.Background()

	_, err := h.Services.Study.Start(ctx, a.ID, "thesis")
	require.NoError(t, err)

	snapshot, err := h.Services.Study.DailySnapshot(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, snapshot.IsCurrentlyStudying)
	assert.Equal(t, "thesis", snapshot.CurrentTaskName)

	_, err = h.Services.Study.DailySnapshot(ctx, stranger.ID, a.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotPaired)

	_, err = h.Services.Study.Stats(ctx, stranger.ID, a.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotPaired)

	_, err = h.Services.Study.DailySnapshot(ctx, a.ID, uuid.New())
	testutil.AssertDomainError(t, err, domain.ErrUserNotFound)
}

func TestStudyService_History(t *testing.T) {
	h := testutil.NewHarness(t)
	user := newUsers(t, h, 1)[0]
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"first", "second", "third"} {
		session, err := h.Services.Study.Start(ctx, user.ID, name)
		require.NoError(t, err)
		h.Clock.Advance(time.Minute)
		_, err = h.Services.Study.Stop(ctx, user.ID, session.ID)
		require.NoError(t, err)
		ids = append(ids, session.ID)
	}

	history, err := h.Services.Study.History(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)

	all, err := h.Services.Study.History(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
