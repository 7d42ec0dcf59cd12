package seed

import (
	"context"
	"testing"

	"plaza/internal/database"
	"plaza/internal/models"
	"plaza/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Seeder, repository.Store) {
	t.Helper()
	db := database.NewTestDB(t)
	store := repository.NewStore(db, models.ChatSettings{
		MaxMessageLength:   120,
		DuplicateThreshold: 2,
		ReactionsEnabled:   true,
		RepliesEnabled:     true,
		MentionsEnabled:    true,
	})
	return NewSeeder(db, store, Options{NumUsers: 4, NumMessages: 30, Seed: 42}), store
}

func TestSeeder_Run(t *testing.T) {
	s, store := testStore(t)
	ctx := context.Background()

	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, result.Messages)
	assert.NotZero(t, result.PinnedID)

	pinned := true
	n, err := store.Messages().Count(ctx, repository.MessageFilter{Pinned: &pinned})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var total int64
	for _, u := range result.Users {
		stored, err := store.UserStates().FindByUserID(ctx, u.UserID)
		require.NoError(t, err)
		total += stored.TotalMessages
	}
	assert.EqualValues(t, 30, total)

	messages, err := store.Messages().Find(ctx, repository.MessageFilter{}, repository.SortOldest, 0, 0)
	require.NoError(t, err)
	for _, m := range messages {
		assert.NotEmpty(t, m.Text)
		for _, r := range m.Reactions {
			assert.True(t, r.Emoji.Valid())
		}
	}
}

func TestSeeder_CleanRun(t *testing.T) {
	s, store := testStore(t)
	ctx := context.Background()

	_, err := s.Run(ctx)
	require.NoError(t, err)

	s.opts.ShouldClean = true
	s.opts.NumMessages = 5
	_, err = s.Run(ctx)
	require.NoError(t, err)

	n, err := store.Messages().Count(ctx, repository.MessageFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}
