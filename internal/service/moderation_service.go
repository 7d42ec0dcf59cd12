package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"plaza/internal/models"
	"plaza/internal/moderation"
	"plaza/internal/notifications"
	"plaza/internal/observability"
	"plaza/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const defaultModerationReason = "No reason provided"

const settingsLockKey = "settings"

// RestrictionInput describes a mute or ban. A nil DurationMinutes means the
// restriction has no expiry.
type RestrictionInput struct {
	DurationMinutes *int
	Reason          string
}

func requireAdmin(actor Identity) error {
	if !actor.IsAdmin {
		return models.NewForbiddenError("Admin access required")
	}
	return nil
}

func (s *ChatService) adminAction(ctx context.Context, actor Identity, action string, fields map[string]interface{}) {
	observability.ChatAdminActions.WithLabelValues(action).Inc()
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["admin_id"] = actor.UserID
	s.log.LogServiceCall(ctx, "moderation", action, fields)
}

// DeleteMessage soft-deletes a message. A pinned message loses its pin in the
// same write.
func (s *ChatService) DeleteMessage(ctx context.Context, actor Identity, messageID uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation.DeleteMessage", attribute.Int64("message.id", int64(messageID)))
	defer span.End()

	unlockPin := s.locks.Lock(repository.PinLockKey)
	defer unlockPin()
	unlock := s.locks.Lock(repository.MessageLockKey(messageID))
	defer unlock()

	msg, err := s.findLiveMessage(ctx, messageID)
	if err != nil {
		return err
	}

	wasPinned := msg.IsPinned
	now := s.now()
	adminID := actor.UserID
	msg.IsDeleted = true
	msg.DeletedAt = &now
	msg.DeletedBy = &adminID
	msg.ClearPin()

	if err := s.store.Messages().Save(ctx, msg); err != nil {
		span.SetError(err)
		return storeError(err)
	}

	s.adminAction(ctx, actor, "delete_message", map[string]interface{}{"message_id": messageID, "was_pinned": wasPinned})
	s.publishRoom(ctx, notifications.EventMessageDeleted, MessageDeletedPayload{MessageID: messageID})
	if wasPinned {
		s.publishRoom(ctx, notifications.EventPinnedMessageRemoved, struct{}{})
	}
	return nil
}

// PinMessage makes messageID the only pinned message.
func (s *ChatService) PinMessage(ctx context.Context, actor Identity, messageID uint) (*models.ChatMessage, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation.PinMessage", attribute.Int64("message.id", int64(messageID)))
	defer span.End()

	unlockPin := s.locks.Lock(repository.PinLockKey)
	defer unlockPin()
	unlock := s.locks.Lock(repository.MessageLockKey(messageID))
	defer unlock()

	msg, err := s.findLiveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	adminID := actor.UserID
	msg.IsPinned = true
	msg.PinnedAt = &now
	msg.PinnedBy = &adminID

	pinned := true
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := tx.Messages().UpdateMany(ctx, repository.MessageFilter{Pinned: &pinned, ExcludeID: messageID}, unpinPatch()); err != nil {
			return err
		}
		return tx.Messages().Save(ctx, msg)
	})
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	s.adminAction(ctx, actor, "pin_message", map[string]interface{}{"message_id": messageID})
	s.publishRoom(ctx, notifications.EventPinnedMessage, NewMessagePayload{Message: moderation.ToResponse(msg)})
	return msg, nil
}

// SetPinned pins or unpins messageID.
func (s *ChatService) SetPinned(ctx context.Context, actor Identity, messageID uint, pin bool) (*models.ChatMessage, error) {
	if pin {
		return s.PinMessage(ctx, actor, messageID)
	}
	return nil, s.UnpinMessage(ctx, actor, messageID)
}

// UnpinMessage removes the pin from messageID. Unpinning a message that is not
// pinned skips the write but still announces the removal.
func (s *ChatService) UnpinMessage(ctx context.Context, actor Identity, messageID uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation.UnpinMessage", attribute.Int64("message.id", int64(messageID)))
	defer span.End()

	unlockPin := s.locks.Lock(repository.PinLockKey)
	defer unlockPin()
	unlock := s.locks.Lock(repository.MessageLockKey(messageID))
	defer unlock()

	msg, err := s.findLiveMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsPinned {
		msg.ClearPin()
		if err := s.store.Messages().Save(ctx, msg); err != nil {
			span.SetError(err)
			return storeError(err)
		}
	}

	s.adminAction(ctx, actor, "unpin_message", map[string]interface{}{"message_id": messageID})
	s.publishRoom(ctx, notifications.EventPinnedMessageRemoved, struct{}{})
	return nil
}

// MuteUser mutes userID. The user's state is created when absent.
func (s *ChatService) MuteUser(ctx context.Context, actor Identity, userID uint, in RestrictionInput) (*models.UserChatState, error) {
	return s.restrict(ctx, actor, userID, in, "mute_user", func(state *models.UserChatState, until *time.Time, reason string) {
		adminID := actor.UserID
		state.IsMuted = true
		state.MutedUntil = until
		state.MutedBy = &adminID
		state.MuteReason = reason
	})
}

// BanUser bans userID. The user's state is created when absent.
func (s *ChatService) BanUser(ctx context.Context, actor Identity, userID uint, in RestrictionInput) (*models.UserChatState, error) {
	return s.restrict(ctx, actor, userID, in, "ban_user", func(state *models.UserChatState, until *time.Time, reason string) {
		adminID := actor.UserID
		state.IsBanned = true
		state.BannedUntil = until
		state.BannedBy = &adminID
		state.BanReason = reason
	})
}

// UnmuteUser lifts a mute. It fails when the user has no state.
func (s *ChatService) UnmuteUser(ctx context.Context, actor Identity, userID uint) (*models.UserChatState, error) {
	return s.lift(ctx, actor, userID, "unmute_user", (*models.UserChatState).ClearMute)
}

// UnbanUser lifts a ban. It fails when the user has no state.
func (s *ChatService) UnbanUser(ctx context.Context, actor Identity, userID uint) (*models.UserChatState, error) {
	return s.lift(ctx, actor, userID, "unban_user", (*models.UserChatState).ClearBan)
}

func (s *ChatService) restrict(ctx context.Context, actor Identity, userID uint, in RestrictionInput, action string,
	set func(state *models.UserChatState, until *time.Time, reason string)) (*models.UserChatState, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, models.NewValidationError("User id is required")
	}
	if in.DurationMinutes != nil && *in.DurationMinutes <= 0 {
		return nil, models.NewValidationError("Duration must be a positive number of minutes")
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation."+action, attribute.Int64("target.user_id", int64(userID)))
	defer span.End()

	unlock := s.locks.Lock(repository.UserLockKey(userID))
	defer unlock()

	state, err := s.loadOrInitState(ctx, userID)
	if err != nil {
		return nil, err
	}

	var until *time.Time
	if in.DurationMinutes != nil {
		t := s.now().Add(time.Duration(*in.DurationMinutes) * time.Minute)
		until = &t
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = defaultModerationReason
	}
	set(state, until, reason)

	if err := persistState(ctx, s.store.UserStates(), state); err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	fields := map[string]interface{}{"user_id": userID, "reason": reason}
	if until != nil {
		fields["until"] = until.UTC().Format(time.RFC3339)
	}
	s.adminAction(ctx, actor, action, fields)
	return state, nil
}

func (s *ChatService) lift(ctx context.Context, actor Identity, userID uint, action string,
	unset func(*models.UserChatState)) (*models.UserChatState, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation."+action, attribute.Int64("target.user_id", int64(userID)))
	defer span.End()

	unlock := s.locks.Lock(repository.UserLockKey(userID))
	defer unlock()

	state, err := s.store.UserStates().FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.NewCodedError(models.CodeUserStateNotFound, "User has no chat record")
	}
	if err != nil {
		return nil, storeError(err)
	}

	unset(state)
	if err := s.store.UserStates().Save(ctx, state); err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	s.adminAction(ctx, actor, action, map[string]interface{}{"user_id": userID})
	return state, nil
}

// UpdateSettings applies a partial settings change and announces the result.
func (s *ChatService) UpdateSettings(ctx context.Context, actor Identity, patch models.ChatSettingsPatch) (*models.ChatSettings, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "moderation.UpdateSettings")
	defer span.End()

	unlock := s.locks.Lock(settingsLockKey)
	defer unlock()

	// The row must exist before it can be locked; this read bypasses any cache.
	if _, err := s.store.Settings().GetOrCreateDefault(ctx); err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	adminID := actor.UserID
	var settings *models.ChatSettings
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		current, err := tx.Settings().GetForUpdate(ctx)
		if err != nil {
			return err
		}
		patch.Apply(current)
		current.UpdatedBy = &adminID
		if err := tx.Settings().Save(ctx, current); err != nil {
			return err
		}
		settings = current
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	if c, ok := s.settings.(repository.SettingsCache); ok {
		c.Put(ctx, settings)
	}

	s.adminAction(ctx, actor, "update_settings", nil)
	s.publishRoom(ctx, notifications.EventSettingsUpdated, SettingsUpdatedPayload{Settings: *settings})
	return settings, nil
}

func validatePatch(p models.ChatSettingsPatch) error {
	if p.Empty() {
		return models.NewValidationError("No settings provided")
	}
	if p.SlowModeSeconds != nil && *p.SlowModeSeconds < 0 {
		return models.NewValidationError("slow_mode_seconds must not be negative")
	}
	if p.MaxMessageLength != nil && *p.MaxMessageLength <= 0 {
		return models.NewValidationError("max_message_length must be positive")
	}
	if p.DuplicateThreshold != nil && *p.DuplicateThreshold < 0 {
		return models.NewValidationError("duplicate_threshold must not be negative")
	}
	return nil
}
