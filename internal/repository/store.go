package repository

import (
	"context"

	"plaza/internal/models"

	"gorm.io/gorm"
)

// Store groups the chat repositories and runs multi-record writes atomically.
type Store interface {
	Messages() MessageRepository
	UserStates() UserStateRepository
	Settings() SettingsRepository
	// Transaction runs fn against a Store bound to a single database transaction.
	// The transaction commits when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db       *gorm.DB
	defaults models.ChatSettings
}

// NewStore creates a Store over db. defaults seed the settings row on first read.
func NewStore(db *gorm.DB, defaults models.ChatSettings) Store {
	return &gormStore{db: db, defaults: defaults}
}

func (s *gormStore) Messages() MessageRepository {
	return NewMessageRepository(s.db)
}

func (s *gormStore) UserStates() UserStateRepository {
	return NewUserStateRepository(s.db)
}

func (s *gormStore) Settings() SettingsRepository {
	return NewSettingsRepository(s.db, s.defaults)
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx, defaults: s.defaults})
	})
}
