package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) Envelope {
	t.Helper()
	select {
	case raw := <-ch:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func TestRegisterAllocatesDistinctClientIDs(t *testing.T) {
	b := New()
	id1, _ := b.Register()
	id2, _ := b.Register()
	assert.NotEqual(t, id1, id2)
}

func TestSendToDeliversOnlyToTargetClient(t *testing.T) {
	b := New()
	id1, ch1 := b.Register()
	id2, ch2 := b.Register()

	b.SendTo(id1, TypeError, "hello")
	env := recv(t, ch1)
	assert.Equal(t, TypeError, env.Type)

	select {
	case <-ch2:
		t.Fatal("client 2 should not have received anything")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastDeliversOnlyToSubscribers(t *testing.T) {
	b := New()
	marketID := uuid.New()
	subscribed, subCh := b.Register()
	unsubscribed, unsubCh := b.Register()

	b.Subscribe(subscribed, marketID)
	b.Broadcast(marketID, TypeTrade, "fill")

	env := recv(t, subCh)
	assert.Equal(t, TypeTrade, env.Type)

	select {
	case <-unsubCh:
		t.Fatal("unsubscribed client should not receive market broadcasts")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	marketID := uuid.New()
	id, ch := b.Register()
	b.Subscribe(id, marketID)
	b.Unsubscribe(id, marketID)

	b.Broadcast(marketID, TypeTrade, "fill")
	select {
	case <-ch:
		t.Fatal("should not receive after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesChannelAndDropsSubscriptions(t *testing.T) {
	b := New()
	marketID := uuid.New()
	id, ch := b.Register()
	b.Subscribe(id, marketID)

	b.Unregister(id)
	assert.Equal(t, 0, b.SubscriberCount(marketID))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
}

func TestSubscriberCountReflectsActiveSubscriptions(t *testing.T) {
	b := New()
	marketID := uuid.New()
	id1, _ := b.Register()
	id2, _ := b.Register()

	b.Subscribe(id1, marketID)
	b.Subscribe(id2, marketID)
	assert.Equal(t, 2, b.SubscriberCount(marketID))

	b.Unsubscribe(id1, marketID)
	assert.Equal(t, 1, b.SubscriberCount(marketID))
}

func TestDeliverDropsOnFullClientBuffer(t *testing.T) {
	b := New()
	id, ch := b.Register()

	for i := 0; i < clientSendBuffer+10; i++ {
		b.SendTo(id, TypeError, i)
	}

	// Buffer caps at clientSendBuffer; excess sends are dropped, not blocked.
	assert.LessOrEqual(t, len(ch), clientSendBuffer)
}
