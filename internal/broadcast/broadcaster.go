// Package broadcast fans outbound events (orderbook snapshots, trades,
// order updates) out to subscribed clients, per spec.md §4.5. Subscription
// is per market id; delivery is non-blocking and best-effort, matching the
// original's mpsc-per-client design translated to buffered Go channels.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clobx/internal/common"
)

// clientSendBuffer bounds how many undelivered messages a slow client can
// accumulate before it starts losing updates instead of stalling senders.
const clientSendBuffer = 64

// ClientID identifies one connected subscriber.
type ClientID uint64

// Envelope is the wire shape of every server-to-client message: a
// discriminant plus its payload, mirroring the original's tagged WsMessage
// enum (OrderbookSnapshot/Trade/OrderUpdate/Error).
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	TypeOrderbookSnapshot = "orderbook_snapshot"
	TypeTrade             = "trade"
	TypeOrderUpdate       = "order_update"
	TypeError             = "error"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
)

// Broadcaster owns the client registry and per-market subscription index.
// It has no knowledge of transport: Register hands back a send channel a
// transport-layer handler (internal/transport) pumps onto a websocket
// connection.
type Broadcaster struct {
	mu            sync.RWMutex
	clients       map[ClientID]chan []byte
	subscriptions map[uuid.UUID]map[ClientID]struct{}
	nextClientID  uint64

	// relay mirrors outbound broadcasts to other instances over Redis
	// pub/sub, set by broadcast.NewRelay. Nil means single-instance mode.
	relay func(marketID uuid.UUID, msgType string, payload any)
}

func New() *Broadcaster {
	return &Broadcaster{
		clients:       make(map[ClientID]chan []byte),
		subscriptions: make(map[uuid.UUID]map[ClientID]struct{}),
	}
}

// Register allocates a ClientID and its outbound buffer. Callers must
// Unregister when the connection closes.
func (b *Broadcaster) Register() (ClientID, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextClientID++
	id := ClientID(b.nextClientID)
	ch := make(chan []byte, clientSendBuffer)
	b.clients[id] = ch
	return id, ch
}

// Unregister removes a client from every subscription and closes its
// outbound channel.
func (b *Broadcaster) Unregister(id ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.clients[id]
	if !ok {
		return
	}
	delete(b.clients, id)
	for marketID, subs := range b.subscriptions {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscriptions, marketID)
		}
	}
	close(ch)
}

// Subscribe adds id to marketID's subscriber set.
func (b *Broadcaster) Subscribe(id ClientID, marketID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscriptions[marketID]
	if !ok {
		subs = make(map[ClientID]struct{})
		b.subscriptions[marketID] = subs
	}
	subs[id] = struct{}{}
}

// Unsubscribe removes id from marketID's subscriber set, if present.
func (b *Broadcaster) Unsubscribe(id ClientID, marketID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscriptions[marketID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscriptions, marketID)
		}
	}
}

// SubscriberCount reports how many clients are subscribed to marketID.
func (b *Broadcaster) SubscriberCount(marketID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[marketID])
}

// SendTo delivers msg to a single client, dropping it if the client's
// buffer is full rather than blocking the caller.
func (b *Broadcaster) SendTo(id ClientID, msgType string, payload any) {
	b.mu.RLock()
	ch, ok := b.clients[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.deliver(id, ch, msgType, payload)
}

// Broadcast delivers msg to every client subscribed to marketID on this
// instance, then mirrors it to other instances if a Relay is attached.
func (b *Broadcaster) Broadcast(marketID uuid.UUID, msgType string, payload any) {
	b.broadcastLocal(marketID, msgType, payload)
	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		relay(marketID, msgType, payload)
	}
}

// broadcastLocal delivers to this instance's subscribers only. A Relay
// calls this directly for messages it received from Redis, so a message
// published by one instance is never republished by the instances that
// receive it.
func (b *Broadcaster) broadcastLocal(marketID uuid.UUID, msgType string, payload any) {
	b.mu.RLock()
	subs, ok := b.subscriptions[marketID]
	if !ok {
		b.mu.RUnlock()
		return
	}
	targets := make([]ClientID, 0, len(subs))
	for id := range subs {
		targets = append(targets, id)
	}
	chans := make(map[ClientID]chan []byte, len(targets))
	for _, id := range targets {
		if ch, ok := b.clients[id]; ok {
			chans[id] = ch
		}
	}
	b.mu.RUnlock()

	for id, ch := range chans {
		b.deliver(id, ch, msgType, payload)
	}
}

// setRelay attaches the publish callback a Relay uses to mirror outbound
// broadcasts. Unexported: only broadcast.NewRelay wires this up.
func (b *Broadcaster) setRelay(fn func(marketID uuid.UUID, msgType string, payload any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = fn
}

// BroadcastSnapshot and BroadcastTrade are thin convenience wrappers over
// Broadcast for snapshot and trade events. OrderIntake calls
// BroadcastSnapshot after every place and cancel (order updates go through
// Broadcast with TypeOrderUpdate); it does not emit trade events.
func (b *Broadcaster) BroadcastSnapshot(snap common.OrderbookSnapshot) {
	b.Broadcast(snap.MarketID, TypeOrderbookSnapshot, snap)
}

func (b *Broadcaster) BroadcastTrade(marketID uuid.UUID, trade common.Trade) {
	b.Broadcast(marketID, TypeTrade, trade)
}

// deliver marshals one envelope and hands it to ch without blocking,
// dropping the message when the client's buffer is full.
func (b *Broadcaster) deliver(id ClientID, ch chan []byte, msgType string, payload any) {
	data, err := json.Marshal(Envelope{Type: msgType, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal broadcast envelope")
		return
	}
	select {
	case ch <- data:
	default:
		log.Warn().Uint64("client_id", uint64(id)).Str("type", msgType).Msg("dropping message, client buffer full")
	}
}
