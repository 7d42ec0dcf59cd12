package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw := <-c.Send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(testEventuallyTimeout):
		t.Fatal("timed out waiting for message")
	}
	return Envelope{}
}

func TestEncode(t *testing.T) {
	msg, err := Encode(EventMessageDeleted, map[string]uint{"messageId": 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message-deleted","payload":{"messageId":4}}`, msg)

	msg, err = Encode(EventPinnedMessageRemoved, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pinned-message-removed","payload":{}}`, msg)
}

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "notifications:user:1", UserChannel(1))
	assert.Equal(t, "notifications:user:100", UserChannel(100))
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishRoom(context.Background(), "x"))
	assert.NoError(t, n.PublishUser(context.Background(), 1, "x"))
	assert.NoError(t, n.StartSubscriber(context.Background(), func(string, string) {}))
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub()

	alice, err := hub.Register(1, nil)
	require.NoError(t, err)
	bob, err := hub.Register(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.ConnectionCount())

	hub.BroadcastAll(`{"type":"new-message","payload":{}}`)
	assert.Equal(t, EventNewMessage, receive(t, alice).Type)
	assert.Equal(t, EventNewMessage, receive(t, bob).Type)

	hub.Broadcast(2, `{"type":"mention","payload":{}}`)
	assert.Equal(t, EventMention, receive(t, bob).Type)
	assert.Len(t, alice.Send, 0)

	hub.UnregisterClient(alice, ReasonClientClosed)
	hub.UnregisterClient(alice, ReasonTimeout)
	assert.Equal(t, 1, hub.ConnectionCount())

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 0, hub.ConnectionCount())
	_, err = hub.Register(3, nil)
	assert.ErrorIs(t, err, errHubClosed)
}

func TestHub_PerUserLimit(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(5, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(5, nil)
	assert.ErrorIs(t, err, errUserConnLimit)
}

func TestHub_Deliver(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(9, nil)
	require.NoError(t, err)

	hub.Deliver(UserChannel(9), `{"type":"mention","payload":{}}`)
	assert.Equal(t, EventMention, receive(t, c).Type)

	hub.Deliver("notifications:user:abc", `{}`)
	hub.Deliver("other:channel", `{}`)
	assert.Len(t, c.Send, 0)
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	for i := 0; i < sendBufferSize+5; i++ {
		c.TrySend([]byte("x"))
	}
	assert.Len(t, c.Send, sendBufferSize)
	assert.EqualValues(t, 5, c.Dropped())

	// The next event that fits is preceded by a notice.
	<-c.Send
	<-c.Send
	c.TrySend([]byte("z"))
	assert.Len(t, c.Send, sendBufferSize)

	var queued [][]byte
	for len(c.Send) > 0 {
		queued = append(queued, <-c.Send)
	}
	require.Len(t, queued, sendBufferSize)
	assert.Equal(t, "z", string(queued[len(queued)-1]))

	var env struct {
		Type    string         `json:"type"`
		Payload DroppedPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(queued[len(queued)-2], &env))
	assert.Equal(t, EventMessagesDropped, env.Type)
	assert.EqualValues(t, 5, env.Payload.Dropped)

	// The notice is sent once per overflow.
	c.TrySend([]byte("again"))
	assert.Equal(t, "again", string(<-c.Send))

	close(c.Send)
	assert.NotPanics(t, func() { c.TrySend([]byte("late")) })
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestReadFailureReason(t *testing.T) {
	assert.Equal(t, ReasonTimeout, readFailureReason(timeoutErr{}))
	assert.Equal(t, ReasonReadError, readFailureReason(errors.New("unexpected EOF")))
}

func TestGateway_WithRedisRoutesThroughPubSub(t *testing.T) {
	rdb := newTestRedis(t)
	hub := NewHub()
	notifier := NewNotifier(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, notifier))

	alice, err := hub.Register(1, nil)
	require.NoError(t, err)
	bob, err := hub.Register(2, nil)
	require.NoError(t, err)

	gw := NewGateway(notifier, hub)
	require.NoError(t, gw.PublishToRoom(ctx, EventNewMessage, map[string]string{"text": "hi"}))
	assert.Equal(t, EventNewMessage, receive(t, alice).Type)
	assert.Equal(t, EventNewMessage, receive(t, bob).Type)

	require.NoError(t, gw.PublishToUser(ctx, 2, EventMention, map[string]uint{"mentionedBy": 1}))
	env := receive(t, bob)
	assert.Equal(t, EventMention, env.Type)
	assert.Never(t, func() bool { return len(alice.Send) > 0 }, 10*testPollInterval, testPollInterval)
}

func TestGateway_WithoutRedisUsesLocalHub(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(3, nil)
	require.NoError(t, err)

	gw := NewGateway(NewNotifier(nil), hub)
	require.NoError(t, gw.PublishToRoom(context.Background(), EventSettingsUpdated, map[string]int{"slow_mode_seconds": 5}))
	assert.Equal(t, EventSettingsUpdated, receive(t, c).Type)

	require.NoError(t, gw.PublishToUser(context.Background(), 3, EventMention, nil))
	assert.Equal(t, EventMention, receive(t, c).Type)

	assert.NoError(t, NewGateway(nil, nil).PublishToRoom(context.Background(), EventNewMessage, nil))
}

func TestGateway_EncodeError(t *testing.T) {
	gw := NewGateway(nil, NewHub())
	err := gw.PublishToRoom(context.Background(), EventNewMessage, make(chan int))
	assert.Error(t, err)
}
