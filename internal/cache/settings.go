package cache

import (
	"context"
	"log/slog"
	"time"

	"plaza/internal/models"
	"plaza/internal/observability"
	"plaza/internal/repository"

	"github.com/redis/go-redis/v9"
)

// SettingsKey is the Redis key holding the cached settings row.
const SettingsKey = "chat:settings"

// SettingsTTL bounds staleness if a cache write is lost.
const SettingsTTL = 5 * time.Minute

// SettingsRepository is a read-through cache in front of the settings store.
// Cached rows carry their version, so a slow reader cannot put back a row that a
// committed update already replaced.
type SettingsRepository struct {
	next repository.SettingsRepository
	rdb  *redis.Client
}

// NewSettingsRepository wraps next with a Redis cache. A nil client disables caching.
func NewSettingsRepository(next repository.SettingsRepository, rdb *redis.Client) *SettingsRepository {
	return &SettingsRepository{next: next, rdb: rdb}
}

func (r *SettingsRepository) GetOrCreateDefault(ctx context.Context) (*models.ChatSettings, error) {
	var settings models.ChatSettings
	err := Aside(ctx, r.rdb, SettingsKey, &settings, SettingsTTL, func() (int64, error) {
		loaded, err := r.next.GetOrCreateDefault(ctx)
		if err != nil {
			return 0, err
		}
		settings = *loaded
		return loaded.Version, nil
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// GetForUpdate always reads the store; a locked read must never be served from cache.
func (r *SettingsRepository) GetForUpdate(ctx context.Context) (*models.ChatSettings, error) {
	return r.next.GetForUpdate(ctx)
}

// Save persists settings and caches the saved row.
func (r *SettingsRepository) Save(ctx context.Context, settings *models.ChatSettings) error {
	if err := r.next.Save(ctx, settings); err != nil {
		return err
	}
	r.Put(ctx, settings)
	return nil
}

// Put caches a committed row. If the write fails the cached copy is dropped
// instead, so readers fall back to the store.
func (r *SettingsRepository) Put(ctx context.Context, settings *models.ChatSettings) {
	if _, err := SetJSONVersioned(ctx, r.rdb, SettingsKey, settings, settings.Version, SettingsTTL); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "settings cache write failed",
			slog.Int64("version", settings.Version),
			slog.String("error", err.Error()))
		if err := Invalidate(ctx, r.rdb, SettingsKey, VersionKey(SettingsKey)); err != nil {
			observability.GlobalLogger.ErrorContext(ctx, "settings cache invalidation failed",
				slog.String("error", err.Error()))
		}
	}
}
