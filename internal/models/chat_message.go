// Package models defines the persisted chat entities and API error types.
package models

import "time"

// Emoji is one of the fixed reaction codes clients may send.
type Emoji string

const (
	EmojiLike  Emoji = "like"
	EmojiLove  Emoji = "love"
	EmojiLaugh Emoji = "laugh"
	EmojiWow   Emoji = "wow"
	EmojiSad   Emoji = "sad"
	EmojiFire  Emoji = "fire"
)

// AllowedEmojis lists the reaction set in display order.
var AllowedEmojis = []Emoji{EmojiLike, EmojiLove, EmojiLaugh, EmojiWow, EmojiSad, EmojiFire}

// Valid reports whether e belongs to the fixed reaction set.
func (e Emoji) Valid() bool {
	for _, allowed := range AllowedEmojis {
		if e == allowed {
			return true
		}
	}
	return false
}

// Reaction is a single (user, emoji) entry on a message.
type Reaction struct {
	Emoji     Emoji     `json:"emoji"`
	UserID    uint      `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary is the public aggregate for one emoji.
type ReactionSummary struct {
	Count int    `json:"count"`
	Users []uint `json:"users"`
}

// ReactionCounts maps each used emoji to its aggregate.
type ReactionCounts map[Emoji]ReactionSummary

// ChatMessage is a message in the global chat room. Messages are never
// physically removed; deletion flips IsDeleted and always clears the pin.
type ChatMessage struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	AuthorID   uint   `gorm:"not null;index" json:"author_id"`
	AuthorName string `gorm:"size:100;not null" json:"author_name"`
	Text       string `gorm:"type:text;not null" json:"text"`
	ReplyToID  *uint  `gorm:"index" json:"reply_to_id,omitempty"`
	Mentions   []uint `gorm:"serializer:json;type:text" json:"mentions,omitempty"`

	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *uint      `json:"deleted_by,omitempty"`

	IsPinned bool       `gorm:"not null;default:false;index" json:"is_pinned"`
	PinnedAt *time.Time `json:"pinned_at,omitempty"`
	PinnedBy *uint      `json:"pinned_by,omitempty"`

	Reactions []Reaction `gorm:"serializer:json;type:text" json:"-"`

	Version   uint      `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ClearPin resets every pin field.
func (m *ChatMessage) ClearPin() {
	m.IsPinned = false
	m.PinnedAt = nil
	m.PinnedBy = nil
}

// ChatMessageResponse is the client view of a message. Reactions are exposed
// only as per-emoji aggregates.
type ChatMessageResponse struct {
	ID         uint           `json:"id"`
	AuthorID   uint           `json:"author_id"`
	AuthorName string         `json:"author_name"`
	Text       string         `json:"text"`
	ReplyToID  *uint          `json:"reply_to_id,omitempty"`
	Mentions   []uint         `json:"mentions,omitempty"`
	IsPinned   bool           `json:"is_pinned"`
	PinnedAt   *time.Time     `json:"pinned_at,omitempty"`
	Reactions  ReactionCounts `json:"reactions"`
	CreatedAt  time.Time      `json:"created_at"`
}
