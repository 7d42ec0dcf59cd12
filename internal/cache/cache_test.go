package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"plaza/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type stubSettingsRepo struct {
	settings models.ChatSettings
	loads    int
	saveErr  error
	// afterLoad runs between reading the row and returning it.
	afterLoad func()
}

func (s *stubSettingsRepo) GetOrCreateDefault(ctx context.Context) (*models.ChatSettings, error) {
	s.loads++
	cp := s.settings
	if s.afterLoad != nil {
		s.afterLoad()
	}
	return &cp, nil
}

func (s *stubSettingsRepo) GetForUpdate(ctx context.Context) (*models.ChatSettings, error) {
	cp := s.settings
	return &cp, nil
}

func (s *stubSettingsRepo) Save(ctx context.Context, settings *models.ChatSettings) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	settings.Version++
	s.settings = *settings
	return nil
}

func TestAside(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *map[string]int) func() (int64, error) {
		return func() (int64, error) {
			calls++
			*dest = map[string]int{"n": calls}
			return 1, nil
		}
	}

	var first map[string]int
	require.NoError(t, Aside(ctx, rdb, "k", &first, time.Minute, fetch(&first)))
	var second map[string]int
	require.NoError(t, Aside(ctx, rdb, "k", &second, time.Minute, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, second["n"])
}

func TestAside_FetchError(t *testing.T) {
	_, rdb := newTestRedis(t)
	boom := errors.New("boom")
	var dest string
	err := Aside(context.Background(), rdb, "k", &dest, time.Minute, func() (int64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestHelpers_NilClient(t *testing.T) {
	ctx := context.Background()
	found, err := GetJSON(ctx, nil, "k", new(string))
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, SetJSON(ctx, nil, "k", "v", time.Minute))
	assert.NoError(t, Invalidate(ctx, nil, "k"))
	stored, err := SetJSONVersioned(ctx, nil, "k", "v", 1, time.Minute)
	assert.NoError(t, err)
	assert.False(t, stored)
}

func TestSetJSONVersioned_KeepsNewerValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	stored, err := SetJSONVersioned(ctx, rdb, "k", "v2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = SetJSONVersioned(ctx, rdb, "k", "v1", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	var got string
	found, err := GetJSON(ctx, rdb, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", got)
	assert.Equal(t, "2", mustGet(t, mr, VersionKey("k")))

	stored, err = SetJSONVersioned(ctx, rdb, "k", "v3", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.TTL("k") > 0)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestSettingsRepository_ReadThroughAndWriteThrough(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1, SlowModeSeconds: 3, MaxMessageLength: 500, Version: 1}}
	repo := NewSettingsRepository(inner, rdb)

	s, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.SlowModeSeconds)
	assert.True(t, mr.Exists(SettingsKey))

	_, err = repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.loads)

	s.SlowModeSeconds = 10
	require.NoError(t, repo.Save(ctx, s))

	s, err = repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, s.SlowModeSeconds)
	assert.EqualValues(t, 2, s.Version)
	assert.Equal(t, 1, inner.loads)
}

func TestSettingsRepository_SlowReaderCannotRestoreOldRow(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1, SlowModeSeconds: 3, Version: 1}}
	repo := NewSettingsRepository(inner, rdb)

	// The reader misses the cache and loads version 1; an update commits and is
	// cached before the reader gets to write its copy back.
	inner.afterLoad = func() {
		inner.afterLoad = nil
		updated := inner.settings
		updated.SlowModeSeconds = 10
		require.NoError(t, repo.Save(ctx, &updated))
	}

	stale, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stale.SlowModeSeconds)

	fresh, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, fresh.SlowModeSeconds)
	assert.EqualValues(t, 2, fresh.Version)
	assert.Equal(t, 1, inner.loads)
}

func TestSettingsRepository_GetForUpdateBypassesCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1, SlowModeSeconds: 3, Version: 1}}
	repo := NewSettingsRepository(inner, rdb)

	_, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	inner.settings.SlowModeSeconds = 7

	locked, err := repo.GetForUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, locked.SlowModeSeconds)
}

func TestSettingsRepository_PutFailureDropsCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1, Version: 1}}
	repo := NewSettingsRepository(inner, rdb)

	_, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(SettingsKey))

	// A value of the wrong type makes the version comparison fail inside the script.
	require.NoError(t, mr.Set(VersionKey(SettingsKey), "not-a-number"))
	repo.Put(ctx, &models.ChatSettings{ID: 1, Version: 2})

	assert.False(t, mr.Exists(SettingsKey))
	assert.False(t, mr.Exists(VersionKey(SettingsKey)))
}

func TestSettingsRepository_SaveErrorKeepsCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1}, saveErr: errors.New("db down")}
	repo := NewSettingsRepository(inner, rdb)

	s, err := repo.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Error(t, repo.Save(ctx, s))
	assert.True(t, mr.Exists(SettingsKey))
}

func TestSettingsRepository_RedisDownFallsThrough(t *testing.T) {
	mr, rdb := newTestRedis(t)
	inner := &stubSettingsRepo{settings: models.ChatSettings{ID: 1, MaxMessageLength: 200}}
	repo := NewSettingsRepository(inner, rdb)
	mr.Close()

	s, err := repo.GetOrCreateDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, s.MaxMessageLength)
}

func TestNewClient(t *testing.T) {
	assert.Nil(t, NewClient("redis://%%bad"))

	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr())
	require.NotNil(t, client)
	_ = client.Close()
}
