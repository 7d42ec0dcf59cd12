package notifications

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"plaza/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait = 10 * time.Second

	// A room subscriber that sends no pong within pongWait is dropped.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send pings, so frames stay small.
	maxMessageSize = 4096

	sendBufferSize = 256
)

// Disconnect reasons reported to the hub.
const (
	ReasonClientClosed = "client_closed"
	ReasonTimeout      = "timeout"
	ReasonReadError    = "read_error"
)

// WSHub is implemented by hubs that own clients.
type WSHub interface {
	UnregisterClient(c *Client, reason string)
	Name() string
}

// DroppedPayload tells a subscriber it missed events and should reload the
// message list and pinned message over HTTP.
type DroppedPayload struct {
	Reason  string `json:"reason"`
	Dropped int64  `json:"dropped"`
}

// Client is one websocket subscriber of the chat room.
type Client struct {
	Hub  WSHub
	Conn *websocket.Conn

	// Send holds encoded event envelopes waiting to be written.
	Send chan []byte

	UserID uint

	// IncomingHandler receives every frame read from the peer.
	IncomingHandler func(*Client, []byte)

	dropped       atomic.Int64
	noticePending atomic.Bool
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// Dropped returns how many events were discarded because the subscriber fell behind.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// ReadPump reads frames until the peer goes away, then unregisters the client.
func (c *Client) ReadPump() {
	reason := ReasonClientClosed
	defer func() {
		c.Hub.UnregisterClient(c, reason)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			reason = readFailureReason(err)
			if reason == ReasonReadError {
				observability.GlobalLogger.Warn("websocket read failed",
					slog.String("hub", c.Hub.Name()),
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

func readFailureReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonClientClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonReadError
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues an event without blocking. A subscriber whose buffer is full
// loses the event; the next event that fits is preceded by a messages-dropped
// notice carrying the running count.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	c.flushDropNotice()

	select {
	case c.Send <- message:
	default:
		n := c.dropped.Add(1)
		c.noticePending.Store(true)
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		observability.GlobalLogger.Warn("websocket buffer full, event dropped",
			slog.String("hub", c.Hub.Name()),
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.Int64("dropped", n),
		)
	}
}

func (c *Client) flushDropNotice() {
	if !c.noticePending.Load() {
		return
	}
	notice, err := Encode(EventMessagesDropped, DroppedPayload{Reason: "buffer_full", Dropped: c.dropped.Load()})
	if err != nil {
		return
	}
	select {
	case c.Send <- []byte(notice):
		c.noticePending.Store(false)
	default:
	}
}
