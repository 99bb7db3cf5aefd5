package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/dom/studybuddy/internal/repository/postgres"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_Create(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *domain.User
		wantErr error
	}{
		{
			name: "successful creation",
			user: &domain.User{
				ID:           uuid.New(),
				DisplayName:  "testuser",
				PasswordHash: "hashedpassword",
			},
		},
		{
			name: "duplicate display name",
			user: &domain.User{
				ID:           uuid.New(),
				DisplayName:  "testuser", // Same as above
				PasswordHash: "hashedpassword2",
			},
			wantErr: repository.ErrDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(1), tt.user.Version)
			}
		})
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().
		WithDisplayName("getbyid_user").
		Build(t, testDB.DB)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
	}{
		{name: "existing user", id: user.ID},
		{name: "non-existent user", id: uuid.New(), wantErr: repository.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByID(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
			assert.Equal(t, user.DisplayName, got.DisplayName)
		})
	}
}

func TestUserRepository_UpdateIsCompareAndSet(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().
		WithDisplayName("update_user").
		Build(t, testDB.DB)

	stale, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)

	fresh, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	fresh.StudyStats.Credit(120, time.Now(), time.UTC)
	require.NoError(t, repo.Update(ctx, fresh))
	assert.Equal(t, int64(2), fresh.Version)

	stale.StudyStats.Credit(60, time.Now(), time.UTC)
	assert.ErrorIs(t, repo.Update(ctx, stale), repository.ErrVersionConflict)
	assert.Equal(t, int64(1), stale.Version)

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.StudyStats.TotalSecondsStudied)
	require.NotNil(t, got.StudyStats.LastDailyReset)
}

func TestUserRepository_ClearsNullableColumns(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	a, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	b, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	a.BuddyID = &b.ID
	require.NoError(t, repo.Update(ctx, a))

	unpaired, err := repo.ListUnpaired(ctx)
	require.NoError(t, err)
	require.Len(t, unpaired, 1)
	assert.Equal(t, b.ID, unpaired[0].ID)

	a.BuddyID = nil
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BuddyID)
}
