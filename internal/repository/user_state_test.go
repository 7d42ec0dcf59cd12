package repository

import (
	"context"
	"testing"
	"time"

	"plaza/internal/database"
	"plaza/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStateRepository_Lifecycle(t *testing.T) {
	repo := NewUserStateRepository(database.NewTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByUserID(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	state := &models.UserChatState{
		UserID:         7,
		LastMessageAt:  &now,
		RecentMessages: []string{"hi"},
		TotalMessages:  1,
		StreakDays:     1,
		Badges:         []string{},
	}
	require.NoError(t, repo.Create(ctx, state))
	assert.Equal(t, uint(1), state.Version)

	state.IsMuted = true
	until := now.Add(time.Hour)
	state.MutedUntil = &until
	state.MuteReason = "spam"
	require.NoError(t, repo.Save(ctx, state))

	stored, err := repo.FindByUserID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, stored.IsMuted)
	assert.Equal(t, "spam", stored.MuteReason)
	assert.Equal(t, []string{"hi"}, stored.RecentMessages)
	assert.Equal(t, uint(2), stored.Version)

	stored.ClearMute()
	require.NoError(t, repo.Save(ctx, stored))

	cleared, err := repo.FindByUserID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, cleared.IsMuted)
	assert.Nil(t, cleared.MutedUntil)
	assert.Empty(t, cleared.MuteReason)
}

func TestUserStateRepository_DuplicateCreateConflicts(t *testing.T) {
	repo := NewUserStateRepository(database.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.UserChatState{UserID: 3}))
	err := repo.Create(ctx, &models.UserChatState{UserID: 3})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserStateRepository_StaleSaveConflicts(t *testing.T) {
	repo := NewUserStateRepository(database.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.UserChatState{UserID: 4}))
	a, err := repo.FindByUserID(ctx, 4)
	require.NoError(t, err)
	b, err := repo.FindByUserID(ctx, 4)
	require.NoError(t, err)

	a.IsBanned = true
	require.NoError(t, repo.Save(ctx, a))

	b.TotalMessages = 10
	assert.ErrorIs(t, repo.Save(ctx, b), ErrConflict)
}
