package realtime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

type fakeVerifier struct {
	tokens map[string]string
}

func (v fakeVerifier) VerifyToken(token string) (string, bool) {
	uid, ok := v.tokens[token]
	return uid, ok
}

func newTestConn(id string) *Conn {
	return newConn(id, nil, zerolog.Nop())
}

func TestHub_SubscribeMarketDataRequiresNoAuth(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c := newTestConn("c1")
	hub.Register(c, "")

	require.NoError(t, hub.Subscribe(c, TopicMarketData))
}

func TestHub_SubscribePortfolioRequiresAuth(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	anon := newTestConn("c1")
	hub.Register(anon, "")

	err := hub.Subscribe(anon, TopicPortfolio)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindUnauthorized))

	authed := newTestConn("c2")
	hub.Register(authed, "user-1")
	require.NoError(t, hub.Subscribe(authed, TopicPortfolio))
}

func TestHub_BroadcastToSubscribersOnlyReachesSubscribedConns(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())

	subscribed := newTestConn("c1")
	hub.Register(subscribed, "user-1")
	require.NoError(t, hub.Subscribe(subscribed, TopicOrders))

	unsubscribed := newTestConn("c2")
	hub.Register(unsubscribed, "user-2")

	hub.BroadcastToSubscribers(TopicOrders, Message{Type: "order_update", Timestamp: time.Now()})

	select {
	case msg := <-subscribed.Send:
		require.Equal(t, "order_update", msg.Type)
	default:
		t.Fatal("expected subscribed connection to receive the broadcast")
	}

	select {
	case <-unsubscribed.Send:
		t.Fatal("unsubscribed connection should not receive the broadcast")
	default:
	}
}

func TestHub_UnsubscribeStopsFurtherDelivery(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c := newTestConn("c1")
	hub.Register(c, "user-1")
	require.NoError(t, hub.Subscribe(c, TopicNotifications))
	hub.Unsubscribe(c, TopicNotifications)

	hub.BroadcastToSubscribers(TopicNotifications, Message{Type: "note"})

	select {
	case <-c.Send:
		t.Fatal("expected no delivery after unsubscribe")
	default:
	}
}

func TestHub_SendToUserDeliversToEveryConnectionForThatUser(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c1 := newTestConn("c1")
	c2 := newTestConn("c2")
	hub.Register(c1, "user-1")
	hub.Register(c2, "user-1")

	hub.SendToUser("user-1", Message{Type: "fill"})

	for _, c := range []*Conn{c1, c2} {
		select {
		case msg := <-c.Send:
			require.Equal(t, "fill", msg.Type)
		default:
			t.Fatalf("expected connection %s to receive the message", c.ID)
		}
	}
}

func TestHub_UnregisterRemovesFromBothIndexesAndClosesSend(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c := newTestConn("c1")
	hub.Register(c, "user-1")
	require.NoError(t, hub.Subscribe(c, TopicOrders))

	hub.Unregister(c)

	_, open := <-c.Send
	require.False(t, open)

	// Subsequent subscribe against an unregistered connection fails.
	err := hub.Subscribe(c, TopicOrders)
	require.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestHub_DeliverDropsConnectionWhenSendBufferIsFull(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c := newTestConn("c1")
	hub.Register(c, "user-1")
	require.NoError(t, hub.Subscribe(c, TopicMarketData))

	for i := 0; i < sendBuffer; i++ {
		c.Send <- Message{Type: "filler"}
	}

	hub.BroadcastToSubscribers(TopicMarketData, Message{Type: "overflow"})

	require.Equal(t, uint64(1), hub.DroppedCount())

	// The connection was force-unregistered: its Send channel is closed.
	// The buffered fillers stay readable after close, so drain them first.
	for i := 0; i < sendBuffer; i++ {
		<-c.Send
	}
	_, open := <-c.Send
	require.False(t, open)
}

func TestHub_PublishSatisfiesNotifierSeam(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	c := newTestConn("c1")
	hub.Register(c, "user-1")
	require.NoError(t, hub.Subscribe(c, TopicNotifications))

	var notify interface{ Publish(topic string, data any) } = hub
	notify.Publish("notifications", map[string]any{"strategy_id": "s1"})

	select {
	case msg := <-c.Send:
		require.Equal(t, "notifications", msg.Type)
	default:
		t.Fatal("expected Publish to broadcast to subscribers")
	}
}

func TestFakeVerifier_VerifyToken(t *testing.T) {
	v := fakeVerifier{tokens: map[string]string{"tok-1": "user-1"}}
	uid, ok := v.VerifyToken("tok-1")
	require.True(t, ok)
	require.Equal(t, "user-1", uid)

	_, ok = v.VerifyToken("missing")
	require.False(t, ok)
}
