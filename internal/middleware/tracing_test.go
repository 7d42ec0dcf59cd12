package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"plaza/internal/models"
	"plaza/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		observability.Tracer = prev
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddleware_ChatAttributes(t *testing.T) {
	recorder := recordSpans(t)

	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Post("/api/chat/messages/:id/reactions", func(c *fiber.Ctx) error {
		setIdentity(c, Identity{UserID: 7, DisplayName: "mod", IsAdmin: true})
		return models.RespondWithAppError(c, models.NewCodedError(models.CodeReactionsDisabled, "Reactions are disabled"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/chat/messages/42/reactions", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /api/chat/messages/:id/reactions", span.Name())

	attrs := spanAttrs(span)
	assert.Equal(t, "/api/chat/messages/:id/reactions", attrs["http.route"].AsString())
	assert.EqualValues(t, http.StatusForbidden, attrs["http.status_code"].AsInt64())
	assert.Equal(t, "7", attrs["user.id"].AsString())
	assert.True(t, attrs["user.admin"].AsBool())
	assert.Equal(t, models.CodeReactionsDisabled, attrs["chat.error_code"].AsString())
	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestTracingMiddleware_ServerErrorMarksSpan(t *testing.T) {
	recorder := recordSpans(t)

	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, hasUser := spanAttrs(spans[0])["user.id"]
	assert.False(t, hasUser)
}
