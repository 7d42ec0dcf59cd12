package models

import "time"

// Badge codes awarded for engagement. Badges are never revoked.
const (
	BadgeStreak7  = "streak_7"
	BadgeStreak30 = "streak_30"
)

// UserChatState holds the moderation and engagement record for one user.
// It is created lazily on the user's first interaction.
type UserChatState struct {
	UserID uint `gorm:"primaryKey;autoIncrement:false" json:"user_id"`

	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	RecentMessages []string   `gorm:"serializer:json;type:text" json:"-"`

	IsMuted    bool       `gorm:"not null;default:false" json:"is_muted"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	MutedBy    *uint      `json:"muted_by,omitempty"`
	MuteReason string     `gorm:"type:text;default:''" json:"mute_reason,omitempty"`

	IsBanned    bool       `gorm:"not null;default:false" json:"is_banned"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	BannedBy    *uint      `json:"banned_by,omitempty"`
	BanReason   string     `gorm:"type:text;default:''" json:"ban_reason,omitempty"`

	TotalMessages  int64      `gorm:"not null;default:0" json:"total_messages"`
	StreakDays     int        `gorm:"not null;default:0" json:"streak_days"`
	LastActiveDate *time.Time `json:"last_active_date,omitempty"`
	Badges         []string   `gorm:"serializer:json;type:text" json:"badges"`

	Version   uint      `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (UserChatState) TableName() string {
	return "user_chat_states"
}

// ClearMute resets all mute fields.
func (s *UserChatState) ClearMute() {
	s.IsMuted = false
	s.MutedUntil = nil
	s.MutedBy = nil
	s.MuteReason = ""
}

// ClearBan resets all ban fields.
func (s *UserChatState) ClearBan() {
	s.IsBanned = false
	s.BannedUntil = nil
	s.BannedBy = nil
	s.BanReason = ""
}

// HasBadge reports whether the badge was already awarded.
func (s *UserChatState) HasBadge(badge string) bool {
	for _, b := range s.Badges {
		if b == badge {
			return true
		}
	}
	return false
}
