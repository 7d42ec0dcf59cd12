// Package seed populates the chat database with demo history for local
// development. It is not used by the running server.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"plaza/internal/models"
	"plaza/internal/moderation"
	"plaza/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumMessages int
	ShouldClean bool
	// Seed makes the generated content reproducible; zero picks a random seed.
	Seed int64
}

// Result summarizes a seeding run.
type Result struct {
	Users    []models.UserChatState
	Messages int
	PinnedID uint
}

// Seeder writes demo users and messages through the chat store.
type Seeder struct {
	db    *gorm.DB
	store repository.Store
	opts  Options
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, store repository.Store, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.NumUsers <= 0 {
		opts.NumUsers = 10
	}
	if opts.NumMessages < 0 {
		opts.NumMessages = 0
	}
	return &Seeder{db: db, store: store, opts: opts, faker: gofakeit.New(seed), now: time.Now}
}

// ClearAll removes every chat row, settings included.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []any{&models.ChatMessage{}, &models.UserChatState{}, &models.ChatSettings{}} {
		if err := tx.Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	log.Println("🧹 Cleared chat tables")
	return nil
}

// Run generates the configured history. Messages are spread over the last
// few hours, some carry replies, mentions and reactions, and the most recent
// third contains the single pinned message.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	if s.opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, err
		}
	}

	settings, err := s.store.Settings().GetOrCreateDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	type author struct {
		id    uint
		name  string
		state *models.UserChatState
	}
	authors := make([]*author, 0, s.opts.NumUsers)
	for i := 1; i <= s.opts.NumUsers; i++ {
		authors = append(authors, &author{
			id:    uint(i),
			name:  s.faker.Username(),
			state: &models.UserChatState{UserID: uint(i)},
		})
	}

	result := &Result{}
	if s.opts.NumMessages == 0 {
		return result, nil
	}

	pinIndex := s.opts.NumMessages - 1 - s.faker.Number(0, s.opts.NumMessages/3)
	start := s.now().Add(-time.Duration(s.opts.NumMessages) * 2 * time.Minute)
	var ids []uint

	for i := 0; i < s.opts.NumMessages; i++ {
		a := authors[s.faker.Number(0, len(authors)-1)]
		sentAt := start.Add(time.Duration(i)*2*time.Minute + time.Duration(s.faker.Number(0, 59))*time.Second)

		msg := &models.ChatMessage{
			AuthorID:   a.id,
			AuthorName: a.name,
			Text:       s.text(settings.MaxMessageLength),
			CreatedAt:  sentAt,
			UpdatedAt:  sentAt,
		}
		if settings.RepliesEnabled && len(ids) > 0 && s.faker.Number(1, 5) == 1 {
			target := ids[s.faker.Number(0, len(ids)-1)]
			msg.ReplyToID = &target
		}
		if settings.MentionsEnabled && len(authors) > 1 && s.faker.Number(1, 6) == 1 {
			other := authors[s.faker.Number(0, len(authors)-1)]
			if other.id != a.id {
				msg.Mentions = []uint{other.id}
				msg.Text = "@" + other.name + " " + msg.Text
			}
		}
		if settings.ReactionsEnabled {
			msg.Reactions = s.reactions(len(authors), sentAt)
		}
		if i == pinIndex {
			pinnedAt := sentAt.Add(time.Minute)
			moderator := authors[0].id
			msg.IsPinned = true
			msg.PinnedAt = &pinnedAt
			msg.PinnedBy = &moderator
		}

		if err := s.store.Messages().Create(ctx, msg); err != nil {
			return nil, fmt.Errorf("create message %d: %w", i, err)
		}
		ids = append(ids, msg.ID)
		if msg.IsPinned {
			result.PinnedID = msg.ID
		}
		moderation.RecordSentMessage(msg.Text, a.state, sentAt)
	}
	result.Messages = len(ids)

	for _, a := range authors {
		if a.state.TotalMessages == 0 {
			continue
		}
		if err := s.store.UserStates().Create(ctx, a.state); err != nil {
			return nil, fmt.Errorf("create state for user %d: %w", a.id, err)
		}
		result.Users = append(result.Users, *a.state)
	}

	log.Printf("🌱 Seeded %d messages from %d users (pinned message %d)", result.Messages, len(result.Users), result.PinnedID)
	return result, nil
}

func (s *Seeder) text(maxLen int) string {
	var text string
	switch s.faker.Number(0, 3) {
	case 0:
		text = s.faker.HackerPhrase()
	case 1:
		text = s.faker.Question()
	default:
		text = s.faker.Sentence(s.faker.Number(3, 14))
	}
	text = strings.TrimSpace(text)
	if maxLen > 0 {
		if runes := []rune(text); len(runes) > maxLen {
			text = string(runes[:maxLen])
		}
	}
	return text
}

func (s *Seeder) reactions(numUsers int, sentAt time.Time) []models.Reaction {
	n := s.faker.Number(0, 4)
	var out []models.Reaction
	for i := 0; i < n; i++ {
		userID := uint(s.faker.Number(1, numUsers))
		emoji := models.AllowedEmojis[s.faker.Number(0, len(models.AllowedEmojis)-1)]
		out, _ = moderation.ToggleReaction(out, userID, emoji, sentAt.Add(time.Duration(i+1)*time.Second))
	}
	return out
}
