package repository

import (
	"context"
	"time"

	"plaza/internal/models"
	"plaza/internal/observability"

	"gorm.io/gorm"
)

// MessageSort selects the ordering of message queries.
type MessageSort int

const (
	// SortNewest orders by id descending.
	SortNewest MessageSort = iota
	// SortOldest orders by id ascending.
	SortOldest
	// SortPinnedRecent orders by pin time, most recent first.
	SortPinnedRecent
)

func (s MessageSort) clause() string {
	switch s {
	case SortOldest:
		return "id ASC"
	case SortPinnedRecent:
		return "pinned_at DESC, id DESC"
	default:
		return "id DESC"
	}
}

// MessageFilter narrows message queries. Soft-deleted messages are excluded
// unless IncludeDeleted is set.
type MessageFilter struct {
	ExcludeID      uint
	Pinned         *bool
	IncludeDeleted bool
	AuthorID       uint
	BeforeID       uint
}

func (f MessageFilter) apply(q *gorm.DB) *gorm.DB {
	if !f.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if f.Pinned != nil {
		q = q.Where("is_pinned = ?", *f.Pinned)
	}
	if f.ExcludeID != 0 {
		q = q.Where("id <> ?", f.ExcludeID)
	}
	if f.AuthorID != 0 {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.BeforeID != 0 {
		q = q.Where("id < ?", f.BeforeID)
	}
	return q
}

// MessageRepository defines the interface for chat message persistence
type MessageRepository interface {
	Create(ctx context.Context, msg *models.ChatMessage) error
	// FindByID returns the message including soft-deleted ones.
	FindByID(ctx context.Context, id uint) (*models.ChatMessage, error)
	FindOne(ctx context.Context, filter MessageFilter, sort MessageSort) (*models.ChatMessage, error)
	Find(ctx context.Context, filter MessageFilter, sort MessageSort, limit, skip int) ([]*models.ChatMessage, error)
	Count(ctx context.Context, filter MessageFilter) (int64, error)
	// UpdateMany applies a column patch to every matching message and bumps their version.
	UpdateMany(ctx context.Context, filter MessageFilter, patch map[string]any) (int64, error)
	// Save writes msg if its version is unchanged since it was read, otherwise ErrConflict.
	Save(ctx context.Context, msg *models.ChatMessage) error
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("chat_messages")}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Version == 0 {
		msg.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return translate(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": msg.ID, "author_id": msg.AuthorID})
	return nil
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (r *messageRepository) FindOne(ctx context.Context, filter MessageFilter, sort MessageSort) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := filter.apply(r.db.WithContext(ctx).Model(&models.ChatMessage{})).
		Order(sort.clause()).
		Take(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (r *messageRepository) Find(ctx context.Context, filter MessageFilter, sort MessageSort, limit, skip int) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	q := filter.apply(r.db.WithContext(ctx).Model(&models.ChatMessage{})).Order(sort.clause())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if skip > 0 {
		q = q.Offset(skip)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, translate(err)
	}
	return messages, nil
}

func (r *messageRepository) Count(ctx context.Context, filter MessageFilter) (int64, error) {
	var count int64
	err := filter.apply(r.db.WithContext(ctx).Model(&models.ChatMessage{})).Count(&count).Error
	return count, translate(err)
}

func (r *messageRepository) UpdateMany(ctx context.Context, filter MessageFilter, patch map[string]any) (int64, error) {
	values := make(map[string]any, len(patch)+2)
	for k, v := range patch {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now()

	res := filter.apply(r.db.WithContext(ctx).Model(&models.ChatMessage{})).Updates(values)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update_many")
		return 0, translate(res.Error)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"rows": res.RowsAffected})
	return res.RowsAffected, nil
}

func (r *messageRepository) Save(ctx context.Context, msg *models.ChatMessage) error {
	current := msg.Version
	msg.Version = current + 1

	res := r.db.WithContext(ctx).Model(msg).
		Where("version = ?", current).
		Select("*").Omit("created_at").
		Updates(msg)
	if res.Error != nil {
		msg.Version = current
		r.log.LogError(ctx, res.Error, "save")
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		msg.Version = current
		return ErrConflict
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"id": msg.ID, "version": msg.Version})
	return nil
}
