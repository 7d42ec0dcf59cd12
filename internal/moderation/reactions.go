package moderation

import (
	"time"

	"plaza/internal/models"
)

// ToggleReaction removes the (userID, emoji) pair if present, otherwise
// appends it. It returns the new reaction list and whether the pair was added.
// The input slice is not modified.
func ToggleReaction(reactions []models.Reaction, userID uint, emoji models.Emoji, now time.Time) ([]models.Reaction, bool) {
	out := make([]models.Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if removed {
		return out, false
	}
	return append(out, models.Reaction{Emoji: emoji, UserID: userID, CreatedAt: now}), true
}

// AggregateReactions builds the per-emoji count and reacting user list, in
// reaction order.
func AggregateReactions(reactions []models.Reaction) models.ReactionCounts {
	counts := make(models.ReactionCounts)
	for _, r := range reactions {
		summary := counts[r.Emoji]
		summary.Count++
		summary.Users = append(summary.Users, r.UserID)
		counts[r.Emoji] = summary
	}
	return counts
}

// ToResponse renders a message for clients.
func ToResponse(m *models.ChatMessage) models.ChatMessageResponse {
	return models.ChatMessageResponse{
		ID:         m.ID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Text:       m.Text,
		ReplyToID:  m.ReplyToID,
		Mentions:   m.Mentions,
		IsPinned:   m.IsPinned,
		PinnedAt:   m.PinnedAt,
		Reactions:  AggregateReactions(m.Reactions),
		CreatedAt:  m.CreatedAt,
	}
}
