// Package featureflags parses the CHAT_FEATURES toggle list used to seed the
// chat settings row.
package featureflags

import (
	"strings"

	"plaza/internal/models"
)

// Feature names understood in CHAT_FEATURES.
const (
	Reactions = "reactions"
	Replies   = "replies"
	Mentions  = "mentions"
)

// Manager evaluates feature toggles defined in a simple key=value list.
// Example: "reactions=on,replies=off,mentions=on"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := normalize(parts[0])
		value := normalize(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns the toggle value, or fallback when the flag is absent or unparseable.
// Supported values: on/true/1 and off/false/0.
func (m *Manager) Enabled(name string, fallback bool) bool {
	if m == nil {
		return fallback
	}

	switch m.flags[normalize(name)] {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}
	return fallback
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// ApplyChatDefaults sets the feature toggles of a freshly created settings row.
// Every feature defaults to enabled.
func (m *Manager) ApplyChatDefaults(s *models.ChatSettings) {
	s.ReactionsEnabled = m.Enabled(Reactions, true)
	s.RepliesEnabled = m.Enabled(Replies, true)
	s.MentionsEnabled = m.Enabled(Mentions, true)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
