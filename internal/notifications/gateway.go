package notifications

import (
	"context"
	"fmt"
)

// Gateway is the Broadcaster used by the chat service. With Redis configured events
// travel through pub/sub so every instance's hub receives them; otherwise they are
// handed to the local hub directly.
type Gateway struct {
	notifier *Notifier
	hub      *Hub
}

// NewGateway creates a Gateway. Either argument may be nil.
func NewGateway(notifier *Notifier, hub *Hub) *Gateway {
	return &Gateway{notifier: notifier, hub: hub}
}

func (g *Gateway) PublishToRoom(ctx context.Context, event string, payload any) error {
	msg, err := Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if g.notifier.Enabled() {
		return g.notifier.PublishRoom(ctx, msg)
	}
	if g.hub != nil {
		g.hub.BroadcastAll(msg)
	}
	return nil
}

func (g *Gateway) PublishToUser(ctx context.Context, userID uint, event string, payload any) error {
	msg, err := Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if g.notifier.Enabled() {
		return g.notifier.PublishUser(ctx, userID, msg)
	}
	if g.hub != nil {
		g.hub.Broadcast(userID, msg)
	}
	return nil
}
