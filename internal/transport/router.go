// Package transport is the HTTP and WebSocket surface spec.md §6 describes:
// a gorilla/mux router, rs/cors middleware, and a gorilla/websocket hub for
// the /ws upgrade endpoint.
package transport

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"clobx/internal/book"
	"clobx/internal/broadcast"
	"clobx/internal/intake"
	"clobx/internal/repository"
)

// Version is surfaced on GET /health; set at build time in a full release
// pipeline, left as a constant here.
const Version = "0.1.0"

// Server bundles the dependencies every handler needs.
type Server struct {
	repo                      repository.Repository
	intake                    *intake.Intake
	broadcaster               *broadcast.Broadcaster
	registry                  *book.Registry
	orderbookSnapshotDepthMax int
}

// NewServer wires a Server. orderbookSnapshotDepthMax caps the ?depth=
// query parameter handleOrderbook honors (ORDERBOOK_SNAPSHOT_DEPTH_MAX);
// pass 0 to fall back to defaultOrderbookDepthMax.
func NewServer(repo repository.Repository, in *intake.Intake, b *broadcast.Broadcaster, reg *book.Registry, orderbookSnapshotDepthMax int) *Server {
	if orderbookSnapshotDepthMax <= 0 {
		orderbookSnapshotDepthMax = defaultOrderbookDepthMax
	}
	return &Server{repo: repo, intake: in, broadcaster: b, registry: reg, orderbookSnapshotDepthMax: orderbookSnapshotDepthMax}
}

func (s *Server) registryLookup(marketID uuid.UUID) (*book.MarketBook, bool) {
	return s.registry.Get(marketID)
}

// Router builds the full mux.Router plus CORS wrapper ready to pass to
// http.Server.Handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/markets", s.handleListMarkets).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}", s.handleGetMarket).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/orderbook", s.handleOrderbook).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/trades", s.handleRecentTrades).Methods(http.MethodGet)
	r.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{order_id}", s.handleCancelOrder).Methods(http.MethodDelete)
	r.HandleFunc("/orders/{order_id}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/users/{wallet}/orders", s.handleUserOrders).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return cors.AllowAll().Handler(r)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
