package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"clobx/internal/broadcast"
	"clobx/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the envelope a client sends on /ws: {"type": "subscribe",
// "data": {"market_id": "..."}} or the "unsubscribe" counterpart.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type marketRef struct {
	MarketID uuid.UUID `json:"market_id"`
}

// handleWebSocket upgrades the connection, registers it with the
// Broadcaster, and pumps both directions until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, send := s.broadcaster.Register()
	subscribed := make(map[uuid.UUID]bool)

	done := make(chan struct{})
	go writePump(conn, send, done)
	readPump(conn, s, id, subscribed)

	close(done)
	for marketID := range subscribed {
		s.broadcaster.Unsubscribe(id, marketID)
		metrics.OrderbookSubscribers.WithLabelValues(marketID.String()).Dec()
	}
	s.broadcaster.Unregister(id)
	_ = conn.Close()
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, s *Server, id broadcast.ClientID, subscribed map[uuid.UUID]bool) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.broadcaster.SendTo(id, broadcast.TypeError, "malformed message")
			continue
		}

		var ref marketRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil {
			s.broadcaster.SendTo(id, broadcast.TypeError, "malformed data")
			continue
		}

		switch msg.Type {
		case "subscribe":
			s.broadcaster.Subscribe(id, ref.MarketID)
			subscribed[ref.MarketID] = true
			metrics.OrderbookSubscribers.WithLabelValues(ref.MarketID.String()).Inc()
			s.sendInitialSnapshot(id, ref.MarketID)
		case "unsubscribe":
			s.broadcaster.Unsubscribe(id, ref.MarketID)
			if subscribed[ref.MarketID] {
				delete(subscribed, ref.MarketID)
				metrics.OrderbookSubscribers.WithLabelValues(ref.MarketID.String()).Dec()
			}
		default:
			s.broadcaster.SendTo(id, broadcast.TypeError, "unknown message type")
		}
	}
}

// sendInitialSnapshot implements spec.md §4.5's "snapshot emitted on
// subscribe is computed at subscription time" rule. No snapshot is sent for
// a market whose book has not been created yet.
func (s *Server) sendInitialSnapshot(id broadcast.ClientID, marketID uuid.UUID) {
	mb, ok := s.registryLookup(marketID)
	if !ok {
		return
	}
	b := mb.RLock()
	snap := b.Snapshot(defaultOrderbookDepth)
	mb.RUnlock()
	s.broadcaster.SendTo(id, broadcast.TypeOrderbookSnapshot, snap)
}
