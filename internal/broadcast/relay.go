package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// relayPublishTimeout bounds how long a single outbound publish may block
// the caller that triggered the broadcast (the matching/intake hot path).
const relayPublishTimeout = 2 * time.Second

// relayChannel is the single Redis pub/sub channel every instance shares;
// messages are discriminated by MarketID, not by channel name, since a
// market count in the thousands would make per-market channels unwieldy.
const relayChannel = "clobx:broadcast"

// relayMessage is the wire shape published to Redis. It carries enough to
// reconstruct a local Broadcast call on the receiving end.
type relayMessage struct {
	Origin   string          `json:"origin"`
	MarketID uuid.UUID       `json:"market_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// Relay mirrors a Broadcaster's outbound events across instances over
// Redis pub/sub, so clients connected to instance B see orders matched on
// instance A. Attaching a Relay is optional; a Broadcaster with none
// attached behaves as a single-instance fanout.
type Relay struct {
	client      *redis.Client
	broadcaster *Broadcaster
	instanceID  string
}

// NewRelay dials redisURL, attaches itself to b so every future Broadcast
// call is mirrored to Redis, and returns the Relay. Call Run in its own
// goroutine to start consuming other instances' events; Close releases the
// Redis connection.
func NewRelay(ctx context.Context, redisURL string, b *Broadcaster, instanceID string) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	r := &Relay{client: client, broadcaster: b, instanceID: instanceID}
	b.setRelay(r.publish)
	return r, nil
}

// publish is installed as the Broadcaster's relay callback; it fires on
// every local Broadcast call.
func (r *Relay) publish(marketID uuid.UUID, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("relay: failed to marshal payload")
		return
	}
	msg, err := json.Marshal(relayMessage{Origin: r.instanceID, MarketID: marketID, Type: msgType, Payload: data})
	if err != nil {
		log.Error().Err(err).Msg("relay: failed to marshal envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, relayChannel, msg).Err(); err != nil {
		log.Error().Err(err).Msg("relay: publish failed")
	}
}

// Run subscribes to the shared channel and feeds every message that didn't
// originate on this instance back into the local Broadcaster. It blocks
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	ch := sub.Channel()
	log.Info().Str("channel", relayChannel).Msg("broadcast relay subscribed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload)
		}
	}
}

func (r *Relay) handle(raw string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		log.Error().Err(err).Msg("relay: malformed message")
		return
	}
	if msg.Origin == r.instanceID {
		return
	}
	var payload any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Error().Err(err).Msg("relay: malformed payload")
		return
	}
	r.broadcaster.broadcastLocal(msg.MarketID, msg.Type, payload)
}

// Close releases the underlying Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}
