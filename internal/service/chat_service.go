// Package service provides the chat moderation engine: it combines settings, per-user
// moderation state and the message store, and publishes events after every change.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"plaza/internal/models"
	"plaza/internal/moderation"
	"plaza/internal/notifications"
	"plaza/internal/observability"
	"plaza/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxMentions caps the distinct users one message may mention.
	MaxMentions = 10

	// DefaultPageSize and MaxPageSize bound ListMessages.
	DefaultPageSize = 50
	MaxPageSize     = 100

	defaultStoreTimeout = 5 * time.Second
	publishTimeout      = 2 * time.Second
)

// Identity is the verified caller of an operation.
type Identity struct {
	UserID      uint
	DisplayName string
	IsAdmin     bool
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	Text      string
	ReplyToID *uint
	Mentions  []uint
}

// NewMessagePayload is published with new-message and pinned-message.
type NewMessagePayload struct {
	Message models.ChatMessageResponse `json:"message"`
}

// MentionPayload is published to each mentioned user.
type MentionPayload struct {
	Message     models.ChatMessageResponse `json:"message"`
	MentionedBy MentionAuthor              `json:"mentionedBy"`
}

// MentionAuthor identifies who mentioned the recipient.
type MentionAuthor struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
}

// MessageUpdatedPayload carries the reaction aggregate of a message.
type MessageUpdatedPayload struct {
	MessageID uint                  `json:"messageId"`
	Reactions models.ReactionCounts `json:"reactions"`
}

// MessageDeletedPayload is published when a message is soft-deleted.
type MessageDeletedPayload struct {
	MessageID uint `json:"messageId"`
}

// SettingsUpdatedPayload is published after an admin settings change.
type SettingsUpdatedPayload struct {
	Settings models.ChatSettings `json:"settings"`
}

// ChatService is the moderation engine of the public room.
type ChatService struct {
	store        repository.Store
	settings     repository.SettingsRepository
	broadcaster  notifications.Broadcaster
	locks        *repository.KeyedMutex
	now          func() time.Time
	storeTimeout time.Duration
	log          *observability.StructuredLogger
}

// Option configures a ChatService.
type Option func(*ChatService)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

// WithStoreTimeout bounds every operation's persistence calls.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithSettingsRepository overrides the settings source, e.g. with a cached one.
func WithSettingsRepository(r repository.SettingsRepository) Option {
	return func(s *ChatService) {
		if r != nil {
			s.settings = r
		}
	}
}

// NewChatService returns a new ChatService.
func NewChatService(store repository.Store, broadcaster notifications.Broadcaster, opts ...Option) *ChatService {
	s := &ChatService{
		store:        store,
		settings:     store.Settings(),
		broadcaster:  broadcaster,
		locks:        repository.NewKeyedMutex(),
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		log:          observability.NewStructuredLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage validates, moderates and stores a message, then announces it to the room
// and to every mentioned user.
func (s *ChatService) SendMessage(ctx context.Context, actor Identity, in SendMessageInput) (*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "chat.SendMessage", attribute.Int64("user.id", int64(actor.UserID)))
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, s.deny(ctx, actor.UserID, "send", models.NewCodedError(models.CodeMessageEmpty, "Message cannot be empty"))
	}

	settings, err := s.settings.GetOrCreateDefault(ctx)
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}
	if utf8.RuneCountInString(text) > settings.MaxMessageLength {
		return nil, s.deny(ctx, actor.UserID, "send", models.NewCodedError(models.CodeMessageTooLong,
			"Message exceeds the maximum length"))
	}

	unlock := s.locks.Lock(repository.UserLockKey(actor.UserID))
	defer unlock()

	state, err := s.loadOrInitState(ctx, actor.UserID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	now := s.now()
	decision := moderation.EvaluateSendPermission(state, *settings, now)
	cleared := decision.ClearBan || decision.ClearMute

	// Rejections after the permission check still keep lifted restrictions lifted.
	reject := func(appErr error) error {
		if cleared {
			if err := persistState(ctx, s.store.UserStates(), state); err != nil {
				observability.ChatStatePersistErrors.WithLabelValues("clear_expired").Inc()
				observability.GlobalLogger.ErrorContext(ctx, "failed to persist cleared restriction",
					slog.Uint64("user_id", uint64(actor.UserID)),
					slog.String("error", err.Error()),
				)
			}
		}
		return s.deny(ctx, actor.UserID, "send", appErr)
	}

	if !decision.Allowed {
		return nil, reject(decision.Err())
	}
	if moderation.IsDuplicate(text, *state, *settings) {
		return nil, reject(models.NewCodedError(models.CodeDuplicateMessage, "You already sent this message recently"))
	}

	if in.ReplyToID != nil {
		if !settings.RepliesEnabled {
			return nil, reject(models.NewCodedError(models.CodeReplyTargetInvalid, "Replies are disabled"))
		}
		target, err := s.store.Messages().FindByID(ctx, *in.ReplyToID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, reject(models.NewCodedError(models.CodeReplyTargetInvalid, "Reply target does not exist"))
		case err != nil:
			span.SetError(err)
			return nil, storeError(err)
		case target.IsDeleted:
			return nil, reject(models.NewCodedError(models.CodeReplyTargetInvalid, "Reply target was deleted"))
		}
	}

	var mentions []uint
	if settings.MentionsEnabled {
		mentions = normalizeMentions(in.Mentions, actor.UserID)
	}

	msg := &models.ChatMessage{
		AuthorID:   actor.UserID,
		AuthorName: actor.DisplayName,
		Text:       text,
		ReplyToID:  in.ReplyToID,
		Mentions:   mentions,
	}
	badges := moderation.RecordSentMessage(text, state, now)

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}
		return persistState(ctx, tx.UserStates(), state)
	})
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	observability.ChatMessagesSent.Inc()
	for _, badge := range badges {
		observability.BadgesAwarded.WithLabelValues(badge).Inc()
	}

	resp := moderation.ToResponse(msg)
	s.publishRoom(ctx, notifications.EventNewMessage, NewMessagePayload{Message: resp})
	for _, userID := range mentions {
		s.publishUser(ctx, userID, notifications.EventMention, MentionPayload{
			Message:     resp,
			MentionedBy: MentionAuthor{UserID: actor.UserID, DisplayName: actor.DisplayName},
		})
	}

	return msg, nil
}

// ToggleReaction adds the caller's emoji to a message, or removes it if present, and
// returns the resulting aggregate.
func (s *ChatService) ToggleReaction(ctx context.Context, actor Identity, messageID uint, emoji string) (models.ReactionCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	span, ctx := observability.NewSpan(ctx, "chat.ToggleReaction",
		attribute.Int64("user.id", int64(actor.UserID)),
		attribute.Int64("message.id", int64(messageID)),
	)
	defer span.End()

	e := models.Emoji(strings.TrimSpace(emoji))
	if !e.Valid() {
		return nil, s.deny(ctx, actor.UserID, "react", models.NewCodedError(models.CodeInvalidEmoji, "Unsupported reaction"))
	}

	settings, err := s.settings.GetOrCreateDefault(ctx)
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}
	if !settings.ReactionsEnabled {
		return nil, s.deny(ctx, actor.UserID, "react", models.NewCodedError(models.CodeReactionsDisabled, "Reactions are disabled"))
	}

	unlock := s.locks.Lock(repository.MessageLockKey(messageID))
	defer unlock()

	msg, err := s.findLiveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	msg.Reactions, _ = moderation.ToggleReaction(msg.Reactions, actor.UserID, e, s.now())
	if err := s.store.Messages().Save(ctx, msg); err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}

	counts := moderation.AggregateReactions(msg.Reactions)
	s.publishRoom(ctx, notifications.EventMessageUpdated, MessageUpdatedPayload{MessageID: msg.ID, Reactions: counts})
	return counts, nil
}

// ListMessages returns a page of live messages ordered oldest to newest. beforeID
// pages backwards from a known message; zero starts at the newest.
func (s *ChatService) ListMessages(ctx context.Context, limit int, beforeID uint) ([]*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	messages, err := s.store.Messages().Find(ctx, repository.MessageFilter{BeforeID: beforeID}, repository.SortNewest, limit, 0)
	if err != nil {
		return nil, storeError(err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetMessage returns one live message.
func (s *ChatService) GetMessage(ctx context.Context, messageID uint) (*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.findLiveMessage(ctx, messageID)
}

// GetPinnedMessage returns the pinned message, or nil when nothing is pinned. If a
// race ever left several messages pinned, the most recently pinned one is kept and
// the rest are unpinned.
func (s *ChatService) GetPinnedMessage(ctx context.Context) (*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	unlock := s.locks.Lock(repository.PinLockKey)
	defer unlock()

	pinned := true
	filter := repository.MessageFilter{Pinned: &pinned}
	messages, err := s.store.Messages().Find(ctx, filter, repository.SortPinnedRecent, 2, 0)
	if err != nil {
		return nil, storeError(err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	keep := messages[0]
	if len(messages) > 1 {
		filter.ExcludeID = keep.ID
		n, err := s.store.Messages().UpdateMany(ctx, filter, unpinPatch())
		if err != nil {
			return nil, storeError(err)
		}
		observability.GlobalLogger.WarnContext(ctx, "converged duplicate pinned messages",
			slog.Uint64("kept_message_id", uint64(keep.ID)),
			slog.Int64("unpinned", n),
		)
	}
	return keep, nil
}

// UserStatus is a caller's own moderation and engagement snapshot.
type UserStatus struct {
	UserID            uint       `json:"user_id"`
	CanSend           bool       `json:"can_send"`
	Reason            string     `json:"reason,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	IsMuted           bool       `json:"is_muted"`
	MutedUntil        *time.Time `json:"muted_until,omitempty"`
	IsBanned          bool       `json:"is_banned"`
	BannedUntil       *time.Time `json:"banned_until,omitempty"`
	TotalMessages     int64      `json:"total_messages"`
	StreakDays        int        `json:"streak_days"`
	Badges            []string   `json:"badges"`
}

// GetUserStatus reports the user's state as the next send would see it. Expired
// restrictions show as lifted but are only cleared in the store by that send.
func (s *ChatService) GetUserStatus(ctx context.Context, userID uint) (*UserStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	settings, err := s.settings.GetOrCreateDefault(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	state, err := s.loadOrInitState(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := *state
	d := moderation.Evaluate(view, *settings, s.now())
	moderation.Apply(d, &view)

	badges := view.Badges
	if badges == nil {
		badges = []string{}
	}
	return &UserStatus{
		UserID:            userID,
		CanSend:           d.Allowed,
		Reason:            string(d.Reason),
		RetryAfterSeconds: d.RetryAfterSeconds,
		IsMuted:           view.IsMuted,
		MutedUntil:        view.MutedUntil,
		IsBanned:          view.IsBanned,
		BannedUntil:       view.BannedUntil,
		TotalMessages:     view.TotalMessages,
		StreakDays:        view.StreakDays,
		Badges:            badges,
	}, nil
}

// GetSettings returns the current chat settings.
func (s *ChatService) GetSettings(ctx context.Context) (*models.ChatSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	settings, err := s.settings.GetOrCreateDefault(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return settings, nil
}

func (s *ChatService) findLiveMessage(ctx context.Context, messageID uint) (*models.ChatMessage, error) {
	msg, err := s.store.Messages().FindByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && msg.IsDeleted) {
		return nil, models.NewMessageNotFoundError(messageID)
	}
	if err != nil {
		return nil, storeError(err)
	}
	return msg, nil
}

// loadOrInitState returns the stored state or an unsaved fresh one (version 0).
func (s *ChatService) loadOrInitState(ctx context.Context, userID uint) (*models.UserChatState, error) {
	state, err := s.store.UserStates().FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.UserChatState{UserID: userID}, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return state, nil
}

func persistState(ctx context.Context, repo repository.UserStateRepository, state *models.UserChatState) error {
	if state.Version == 0 {
		return repo.Create(ctx, state)
	}
	return repo.Save(ctx, state)
}

// normalizeMentions drops zero ids and the author, removes repeats and caps the list.
func normalizeMentions(ids []uint, authorID uint) []uint {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || id == authorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == MaxMentions {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unpinPatch() map[string]any {
	return map[string]any{
		"is_pinned": false,
		"pinned_at": nil,
		"pinned_by": nil,
	}
}

// deny records a rejected action and returns err unchanged.
func (s *ChatService) deny(ctx context.Context, userID uint, operation string, err error) error {
	code := models.ErrorCode(err)
	observability.ChatDenials.WithLabelValues(code).Inc()
	s.log.LogDenial(ctx, userID, operation, code)
	return err
}

// storeError maps persistence failures onto API errors.
func storeError(err error) error {
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrConflict):
		return models.NewConflictError("The record was modified concurrently, please retry", err)
	case errors.Is(err, repository.ErrNotFound):
		return models.NewNotFoundError("Record", "requested")
	default:
		return models.NewInternalError(err)
	}
}

func (s *ChatService) publishRoom(ctx context.Context, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.broadcaster.PublishToRoom(ctx, event, payload); err != nil {
		observability.BroadcastErrors.WithLabelValues("room").Inc()
		observability.GlobalLogger.ErrorContext(ctx, "room broadcast failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ChatService) publishUser(ctx context.Context, userID uint, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.broadcaster.PublishToUser(ctx, userID, event, payload); err != nil {
		observability.BroadcastErrors.WithLabelValues("user").Inc()
		observability.GlobalLogger.ErrorContext(ctx, "user broadcast failed",
			slog.String("event", event),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}
