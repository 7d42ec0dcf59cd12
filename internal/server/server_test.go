package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"plaza/internal/config"
	"plaza/internal/database"
	"plaza/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:              testSecret,
		Env:                    "test",
		ChatMaxMessageLength:   200,
		ChatDuplicateThreshold: 2,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, rdb *redis.Client) (*Server, *fiber.App) {
	t.Helper()
	s, err := NewServerWithDeps(cfg, database.NewTestDB(t), rdb)
	require.NoError(t, err)
	return s, s.NewApp()
}

func token(t *testing.T, userID uint, name string, admin bool) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   strconv.FormatUint(uint64(userID), 10),
		"name":  name,
		"admin": admin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, app *fiber.App, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)

	resp := do(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "disabled", checks["redis"])
}

func TestChatRoutes_RequireAuth(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)

	resp := do(t, app, http.MethodGet, "/api/chat/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/chat/messages", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendAndListMessages(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)
	alice := token(t, 1, "alice", false)

	resp := do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.ChatMessageResponse](t, resp)
	assert.Equal(t, "alice", created.AuthorName)
	assert.Equal(t, uint(1), created.AuthorID)

	resp = do(t, app, http.MethodGet, "/api/chat/messages?limit=10", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]models.ChatMessageResponse](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].Text)

	resp = do(t, app, http.MethodGet, "/api/chat/messages/"+strconv.Itoa(int(created.ID)), alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/chat/messages/abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	cfg := testConfig()
	cfg.ChatSlowModeSeconds = 30
	_, app := newTestServer(t, cfg, nil)
	alice := token(t, 1, "alice", false)

	resp := do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeMessageEmpty, decode[models.ErrorResponse](t, resp).Code)

	resp = do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "second"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, models.CodeRateLimit, body.Code)
	assert.Positive(t, body.RetryAfterSeconds)

	resp = do(t, app, http.MethodPost, "/api/chat/messages/999/reactions", alice, ToggleReactionRequest{Emoji: "like"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeMessageNotFound, decode[models.ErrorResponse](t, resp).Code)
}

func TestReactions(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)
	alice := token(t, 1, "alice", false)
	bob := token(t, 2, "bob", false)

	resp := do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "react"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[models.ChatMessageResponse](t, resp).ID
	path := "/api/chat/messages/" + strconv.Itoa(int(id)) + "/reactions"

	resp = do(t, app, http.MethodPost, path, bob, ToggleReactionRequest{Emoji: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, app, http.MethodPost, path, bob, ToggleReactionRequest{Emoji: "fire"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Reactions models.ReactionCounts `json:"reactions"`
	}](t, resp)
	assert.Equal(t, 1, body.Reactions[models.EmojiFire].Count)
}

func TestAdminRoutes(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)
	alice := token(t, 1, "alice", false)
	mod := token(t, 99, "mod", true)

	resp := do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "pin me"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := strconv.Itoa(int(decode[models.ChatMessageResponse](t, resp).ID))

	// Non-admin callers keep access to the shared read routes.
	resp = do(t, app, http.MethodGet, "/api/chat/settings", alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodPut, "/api/chat/messages/"+id+"/pin", alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, app, http.MethodPut, "/api/chat/messages/"+id+"/pin", mod, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.ChatMessageResponse](t, resp).IsPinned)

	resp = do(t, app, http.MethodGet, "/api/chat/pinned", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pinned := decode[map[string]*models.ChatMessageResponse](t, resp)
	require.NotNil(t, pinned["message"])
	assert.Equal(t, id, strconv.Itoa(int(pinned["message"].ID)))

	resp = do(t, app, http.MethodDelete, "/api/chat/messages/"+id, mod, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/chat/pinned", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pinned = decode[map[string]*models.ChatMessageResponse](t, resp)
	assert.Nil(t, pinned["message"])

	resp = do(t, app, http.MethodDelete, "/api/chat/messages/"+id, mod, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModerationRoutes(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)
	alice := token(t, 1, "alice", false)
	mod := token(t, 99, "mod", true)

	resp := do(t, app, http.MethodDelete, "/api/chat/users/1/mute", mod, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeUserStateNotFound, decode[models.ErrorResponse](t, resp).Code)

	minutes := 10
	resp = do(t, app, http.MethodPost, "/api/chat/users/1/mute", mod, RestrictUserRequest{DurationMinutes: &minutes})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[models.UserChatState](t, resp)
	assert.True(t, state.IsMuted)
	assert.Equal(t, "No reason provided", state.MuteReason)

	resp = do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, models.CodeUserMuted, body.Code)
	assert.NotNil(t, body.Until)

	resp = do(t, app, http.MethodGet, "/api/chat/me", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[map[string]any](t, resp)
	assert.Equal(t, false, status["can_send"])

	resp = do(t, app, http.MethodDelete, "/api/chat/users/1/mute", mod, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/chat/users/1/ban", mod, RestrictUserRequest{Reason: "spam"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeUserBannedForever, decode[models.ErrorResponse](t, resp).Code)
}

func TestUpdateSettingsRoute(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)
	alice := token(t, 1, "alice", false)
	mod := token(t, 99, "mod", true)

	resp := do(t, app, http.MethodPatch, "/api/chat/settings", mod, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, app, http.MethodPatch, "/api/chat/settings", alice, map[string]any{"slow_mode_seconds": 5})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, app, http.MethodPatch, "/api/chat/settings", mod, map[string]any{"replies_enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settings := decode[models.ChatSettings](t, resp)
	assert.False(t, settings.RepliesEnabled)
	assert.Equal(t, 200, settings.MaxMessageLength)

	resp = do(t, app, http.MethodGet, "/api/chat/feature-flags", mod, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWriteRoutes_HTTPThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Env = "staging"
	cfg.HTTPRateLimit = 1
	cfg.HTTPRateWindowSeconds = 60
	_, app := newTestServer(t, cfg, rdb)
	alice := token(t, 1, "alice", false)

	resp := do(t, app, http.MethodPost, "/api/chat/messages", alice, SendMessageRequest{Text: "one"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := strconv.Itoa(int(decode[models.ChatMessageResponse](t, resp).ID))

	resp = do(t, app, http.MethodPost, "/api/chat/messages/"+id+"/reactions", alice, ToggleReactionRequest{Emoji: "like"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))

	// Reads are not throttled.
	resp = do(t, app, http.MethodGet, "/api/chat/messages", alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWireHub(t *testing.T) {
	t.Run("no redis", func(t *testing.T) {
		s, _ := newTestServer(t, testConfig(), nil)
		assert.NoError(t, s.wireHub(context.Background()))
	})

	t.Run("subscribes", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		s, _ := newTestServer(t, testConfig(), rdb)

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		require.NoError(t, s.wireHub(ctx))
		assert.Positive(t, mr.PubSubNumPat())
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		s, _ := newTestServer(t, testConfig(), rdb)
		mr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := s.wireHub(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat room hub")
	})
}

func TestHumanizeParam(t *testing.T) {
	assert.Equal(t, "ID", humanizeParam("id"))
	assert.Equal(t, "user ID", humanizeParam("userId"))
	assert.Equal(t, "reply target ID", humanizeParam("replyTargetId"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)

	_ = do(t, app, http.MethodGet, "/health/live", "", nil)
	resp := do(t, app, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}
