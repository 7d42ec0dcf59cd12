// Package notifications delivers chat events to connected clients through Redis
// pub/sub and a WebSocket hub.
package notifications

import (
	"context"
	"encoding/json"
)

// Event names published to clients.
const (
	EventNewMessage           = "new-message"
	EventMention              = "mention"
	EventMessageUpdated       = "message-updated"
	EventMessageDeleted       = "message-deleted"
	EventPinnedMessage        = "pinned-message"
	EventPinnedMessageRemoved = "pinned-message-removed"
	EventSettingsUpdated      = "settings-updated"

	// EventMessagesDropped is sent to a single subscriber that fell behind.
	EventMessagesDropped = "messages-dropped"
)

// Broadcaster publishes events to the whole room or to one user.
// Publication happens after persistence; callers log failures and move on.
type Broadcaster interface {
	PublishToRoom(ctx context.Context, event string, payload any) error
	PublishToUser(ctx context.Context, userID uint, event string, payload any) error
}

// Envelope is the wire format of every event.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode marshals an event into its wire envelope.
func Encode(event string, payload any) (string, error) {
	if payload == nil {
		payload = struct{}{}
	}
	b, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
