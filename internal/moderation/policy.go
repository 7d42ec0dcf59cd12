// Package moderation holds the pure send-permission, duplicate and streak
// rules applied to a user's chat state. Functions here never touch a store;
// the caller loads state, applies a decision and persists the result.
package moderation

import (
	"math"
	"strings"
	"time"

	"plaza/internal/models"
)

const (
	// RecentHistorySize caps the normalized message history kept per user,
	// independent of the duplicate threshold.
	RecentHistorySize = 5

	streak7Days  = 7
	streak30Days = 30
)

// Reason is a stable machine-readable denial code.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBanned          Reason = models.CodeUserBanned
	ReasonBannedPermanent Reason = models.CodeUserBannedForever
	ReasonMuted           Reason = models.CodeUserMuted
	ReasonRateLimit       Reason = models.CodeRateLimit
)

// Decision is the outcome of a send-permission check. ClearBan and
// ClearMute report expired restrictions the caller must remove.
type Decision struct {
	Allowed           bool
	Reason            Reason
	RetryAfterSeconds int
	Until             *time.Time

	ClearBan  bool
	ClearMute bool
}

// Err converts a denial into the API error. It returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonBanned:
		return models.NewDenialError(string(d.Reason), "You are banned from chat", 0, d.Until)
	case ReasonBannedPermanent:
		return models.NewDenialError(string(d.Reason), "You are permanently banned from chat", 0, nil)
	case ReasonMuted:
		return models.NewDenialError(string(d.Reason), "You are muted", 0, d.Until)
	case ReasonRateLimit:
		return models.NewDenialError(string(d.Reason), "Slow mode is active, please wait before sending again", d.RetryAfterSeconds, nil)
	default:
		return models.NewForbiddenError("Sending is not permitted")
	}
}

// Evaluate decides whether the user may send at now. It does not modify
// state; expired restrictions are reported through ClearBan/ClearMute.
//
// Order: ban, mute, slow mode. The first active restriction wins.
func Evaluate(state models.UserChatState, settings models.ChatSettings, now time.Time) Decision {
	var d Decision

	if state.IsBanned {
		switch {
		case state.BannedUntil == nil:
			return Decision{Reason: ReasonBannedPermanent}
		case state.BannedUntil.After(now):
			until := *state.BannedUntil
			return Decision{Reason: ReasonBanned, Until: &until}
		default:
			d.ClearBan = true
		}
	}

	if state.IsMuted {
		switch {
		case state.MutedUntil == nil:
			// Mutes without expiry stay until an explicit unmute.
			return Decision{Reason: ReasonMuted, ClearBan: d.ClearBan}
		case state.MutedUntil.After(now):
			until := *state.MutedUntil
			return Decision{Reason: ReasonMuted, Until: &until, ClearBan: d.ClearBan}
		default:
			d.ClearMute = true
		}
	}

	if state.LastMessageAt != nil && settings.SlowModeSeconds > 0 {
		interval := time.Duration(settings.SlowModeSeconds) * time.Second
		elapsed := now.Sub(*state.LastMessageAt)
		if elapsed < interval {
			d.Reason = ReasonRateLimit
			d.RetryAfterSeconds = int(math.Ceil((interval - elapsed).Seconds()))
			return d
		}
	}

	d.Allowed = true
	return d
}

// Apply removes the expired restrictions reported by d. It reports whether
// state changed.
func Apply(d Decision, state *models.UserChatState) bool {
	changed := false
	if d.ClearBan {
		state.ClearBan()
		changed = true
	}
	if d.ClearMute {
		state.ClearMute()
		changed = true
	}
	return changed
}

// EvaluateSendPermission evaluates and applies in one step: expired bans and
// mutes are cleared on state as a side effect. The caller persists state
// whatever the outcome.
func EvaluateSendPermission(state *models.UserChatState, settings models.ChatSettings, now time.Time) Decision {
	d := Evaluate(*state, settings, now)
	Apply(d, state)
	return d
}

// Normalize trims and case-folds text for duplicate comparison.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsDuplicate reports whether text already appears in the user's recent
// history at least DuplicateThreshold times. A threshold <= 0 disables the
// check.
func IsDuplicate(text string, state models.UserChatState, settings models.ChatSettings) bool {
	if settings.DuplicateThreshold <= 0 {
		return false
	}
	normalized := Normalize(text)
	count := 0
	for _, recent := range state.RecentMessages {
		if recent == normalized {
			count++
		}
	}
	return count >= settings.DuplicateThreshold
}

// RecordSentMessage updates rate, duplicate and streak bookkeeping after an
// accepted send. It returns the badges newly awarded by this call.
func RecordSentMessage(text string, state *models.UserChatState, now time.Time) []string {
	sentAt := now
	state.LastMessageAt = &sentAt

	history := make([]string, 0, RecentHistorySize)
	history = append(history, Normalize(text))
	history = append(history, state.RecentMessages...)
	if len(history) > RecentHistorySize {
		history = history[:RecentHistorySize]
	}
	state.RecentMessages = history

	state.TotalMessages++

	today := startOfDay(now)
	switch {
	case state.LastActiveDate == nil:
		state.StreakDays = 1
		state.LastActiveDate = &today
	default:
		switch diff := daysBetween(startOfDay(state.LastActiveDate.In(now.Location())), today); {
		case diff == 0:
			// Same calendar day: streak and last-active day unchanged.
		case diff == 1:
			state.StreakDays++
			state.LastActiveDate = &today
		default:
			state.StreakDays = 1
			state.LastActiveDate = &today
		}
	}

	return awardBadges(state)
}

func awardBadges(state *models.UserChatState) []string {
	var awarded []string
	if state.StreakDays >= streak7Days && !state.HasBadge(models.BadgeStreak7) {
		state.Badges = append(state.Badges, models.BadgeStreak7)
		awarded = append(awarded, models.BadgeStreak7)
	}
	if state.StreakDays >= streak30Days && !state.HasBadge(models.BadgeStreak30) {
		state.Badges = append(state.Badges, models.BadgeStreak30)
		awarded = append(awarded, models.BadgeStreak30)
	}
	return awarded
}

// startOfDay truncates t to local midnight in t's location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b. Both must be midnights in
// the same location; rounding absorbs DST shifts.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
