package server

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"plaza/internal/notifications"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) notifications.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env notifications.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestWebSocketChat_ReceivesRoomAndMentionEvents(t *testing.T) {
	s, app := newTestServer(t, testConfig(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	url := "ws://" + ln.Addr().String() + "/ws/chat?token=" + token(t, 2, "bob", false)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// A pong proves the connection is registered with the hub.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readEnvelope(t, conn).Type)
	assert.Equal(t, 1, s.hub.ConnectionCount())

	resp := do(t, app, http.MethodPost, "/api/chat/messages", token(t, 1, "alice", false),
		SendMessageRequest{Text: "hi @bob", Mentions: []uint{2}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	first := readEnvelope(t, conn)
	assert.Equal(t, notifications.EventNewMessage, first.Type)

	second := readEnvelope(t, conn)
	assert.Equal(t, notifications.EventMention, second.Type)
}

func TestWebSocketChat_RejectsMissingToken(t *testing.T) {
	_, app := newTestServer(t, testConfig(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/chat", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
