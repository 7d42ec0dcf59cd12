package repository

import (
	"context"

	"plaza/internal/models"
	"plaza/internal/observability"

	"gorm.io/gorm"
)

// UserStateRepository persists per-user moderation and engagement state.
type UserStateRepository interface {
	FindByUserID(ctx context.Context, userID uint) (*models.UserChatState, error)
	Create(ctx context.Context, state *models.UserChatState) error
	// Save writes state if its version is unchanged since it was read, otherwise ErrConflict.
	Save(ctx context.Context, state *models.UserChatState) error
}

type userStateRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserStateRepository creates a new user state repository
func NewUserStateRepository(db *gorm.DB) UserStateRepository {
	return &userStateRepository{db: db, log: observability.NewRepoLogger("user_chat_states")}
}

func (r *userStateRepository) FindByUserID(ctx context.Context, userID uint) (*models.UserChatState, error) {
	var state models.UserChatState
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&state).Error; err != nil {
		return nil, translate(err)
	}
	return &state, nil
}

func (r *userStateRepository) Create(ctx context.Context, state *models.UserChatState) error {
	if state.Version == 0 {
		state.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		state.Version = 0
		r.log.LogError(ctx, err, "create")
		return translate(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": state.UserID})
	return nil
}

func (r *userStateRepository) Save(ctx context.Context, state *models.UserChatState) error {
	current := state.Version
	state.Version = current + 1

	res := r.db.WithContext(ctx).Model(state).
		Where("version = ?", current).
		Select("*").Omit("created_at").
		Updates(state)
	if res.Error != nil {
		state.Version = current
		r.log.LogError(ctx, res.Error, "save")
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		state.Version = current
		return ErrConflict
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"user_id": state.UserID, "version": state.Version})
	return nil
}
