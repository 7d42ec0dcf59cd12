package server

import (
	"encoding/json"
	"log"

	"plaza/internal/middleware"
	"plaza/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	wsTypePing = "ping"
	wsTypePong = "pong"
)

// WebSocketChatHandler subscribes a connection to room events and to the
// caller's own mention channel. The socket is receive-only apart from pings;
// every chat action goes through the HTTP API.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals(middleware.LocalUserID).(uint)
		if !ok || userID == 0 {
			log.Printf("WebSocket Chat: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Chat: Failed to register user %d: %v", userID, err)
			msg, _ := json.Marshal(fiber.Map{"error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			_ = conn.Close()
			return
		}

		client.IncomingHandler = handleIncoming

		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}

func handleIncoming(c *notifications.Client, message []byte) {
	var incoming struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &incoming); err != nil {
		log.Printf("WebSocket: Invalid message format from user %d", c.UserID)
		return
	}

	switch incoming.Type {
	case wsTypePing:
		pong, err := notifications.Encode(wsTypePong, nil)
		if err != nil {
			return
		}
		c.TrySend([]byte(pong))
	default:
		// Chat actions are HTTP-only.
	}
}
