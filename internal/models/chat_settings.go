package models

import "time"

// ChatSettingsID is the primary key of the singleton settings row.
const ChatSettingsID uint = 1

// ChatSettings is the process-wide chat policy. One row exists, created with
// configured defaults on first read.
type ChatSettings struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement:false" json:"-"`
	SlowModeSeconds    int       `gorm:"not null" json:"slow_mode_seconds"`
	MaxMessageLength   int       `gorm:"not null" json:"max_message_length"`
	DuplicateThreshold int       `gorm:"not null" json:"duplicate_threshold"`
	ReactionsEnabled   bool      `gorm:"not null" json:"reactions_enabled"`
	RepliesEnabled     bool      `gorm:"not null" json:"replies_enabled"`
	MentionsEnabled    bool      `gorm:"not null" json:"mentions_enabled"`
	UpdatedBy          *uint     `json:"updated_by,omitempty"`
	Version            int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ChatSettings) TableName() string {
	return "chat_settings"
}

// ChatSettingsPatch carries a partial settings update; nil fields keep
// their previous value.
type ChatSettingsPatch struct {
	SlowModeSeconds    *int  `json:"slow_mode_seconds,omitempty"`
	MaxMessageLength   *int  `json:"max_message_length,omitempty"`
	DuplicateThreshold *int  `json:"duplicate_threshold,omitempty"`
	ReactionsEnabled   *bool `json:"reactions_enabled,omitempty"`
	RepliesEnabled     *bool `json:"replies_enabled,omitempty"`
	MentionsEnabled    *bool `json:"mentions_enabled,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ChatSettingsPatch) Empty() bool {
	return p.SlowModeSeconds == nil && p.MaxMessageLength == nil && p.DuplicateThreshold == nil &&
		p.ReactionsEnabled == nil && p.RepliesEnabled == nil && p.MentionsEnabled == nil
}

// Apply copies the provided fields onto s.
func (p ChatSettingsPatch) Apply(s *ChatSettings) {
	if p.SlowModeSeconds != nil {
		s.SlowModeSeconds = *p.SlowModeSeconds
	}
	if p.MaxMessageLength != nil {
		s.MaxMessageLength = *p.MaxMessageLength
	}
	if p.DuplicateThreshold != nil {
		s.DuplicateThreshold = *p.DuplicateThreshold
	}
	if p.ReactionsEnabled != nil {
		s.ReactionsEnabled = *p.ReactionsEnabled
	}
	if p.RepliesEnabled != nil {
		s.RepliesEnabled = *p.RepliesEnabled
	}
	if p.MentionsEnabled != nil {
		s.MentionsEnabled = *p.MentionsEnabled
	}
}
