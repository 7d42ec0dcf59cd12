package repository

import (
	"context"
	"errors"

	"plaza/internal/models"
	"plaza/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository persists the chat settings singleton.
type SettingsRepository interface {
	// GetOrCreateDefault returns the settings row, creating it from the configured defaults.
	GetOrCreateDefault(ctx context.Context) (*models.ChatSettings, error)
	// GetForUpdate reads the existing row and locks it until the surrounding
	// transaction ends. Backends without row locks rely on the version check in Save.
	GetForUpdate(ctx context.Context) (*models.ChatSettings, error)
	// Save writes settings if its version is unchanged since it was read, otherwise ErrConflict.
	Save(ctx context.Context, settings *models.ChatSettings) error
}

// SettingsCache is implemented by settings repositories that keep a copy of the
// row outside the database. Put replaces that copy after a committed write.
type SettingsCache interface {
	Put(ctx context.Context, settings *models.ChatSettings)
}

type settingsRepository struct {
	db       *gorm.DB
	defaults models.ChatSettings
	log      *observability.RepoLogger
}

// NewSettingsRepository creates a settings repository seeded with defaults.
func NewSettingsRepository(db *gorm.DB, defaults models.ChatSettings) SettingsRepository {
	return &settingsRepository{db: db, defaults: defaults, log: observability.NewRepoLogger("chat_settings")}
}

func (r *settingsRepository) GetOrCreateDefault(ctx context.Context) (*models.ChatSettings, error) {
	var settings models.ChatSettings
	err := r.db.WithContext(ctx).Take(&settings, models.ChatSettingsID).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translate(err)
	}

	settings = r.defaults
	settings.ID = models.ChatSettingsID
	settings.Version = 1
	// a concurrent creator may win; the re-read below returns its row
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return nil, translate(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": settings.ID})

	if err := r.db.WithContext(ctx).Take(&settings, models.ChatSettingsID).Error; err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (r *settingsRepository) GetForUpdate(ctx context.Context) (*models.ChatSettings, error) {
	var settings models.ChatSettings
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&settings, models.ChatSettingsID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings *models.ChatSettings) error {
	settings.ID = models.ChatSettingsID
	current := settings.Version
	settings.Version = current + 1

	res := r.db.WithContext(ctx).Model(settings).
		Where("version = ?", current).
		Select("*").Omit("created_at").
		Updates(settings)
	if res.Error != nil {
		settings.Version = current
		r.log.LogError(ctx, res.Error, "save")
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		settings.Version = current
		return ErrConflict
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"id": settings.ID, "version": settings.Version})
	return nil
}
