package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"clobx/internal/common"
	"clobx/internal/intake"
	"clobx/internal/metrics"
)

const (
	defaultOrderbookDepth = 20
	// defaultOrderbookDepthMax is the fallback cap when
	// ORDERBOOK_SNAPSHOT_DEPTH_MAX is unset; see config.Config.
	defaultOrderbookDepthMax = 200
	defaultTradesLimit       = 50
)

type errorEnvelope struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if code, ok := common.Code(err); ok {
		switch code {
		case common.CodeInvalidOrder, common.CodeInsufficientBalance:
			status = http.StatusBadRequest
		case common.CodeMarketNotFound, common.CodeOrderNotFound:
			status = http.StatusNotFound
		case common.CodeMarketInactive, common.CodeInvalidStatus, common.CodeTooManyOrders, common.CodeQueueFull:
			status = http.StatusBadRequest
		case common.CodeArithmeticOverflow, common.CodeStorageError, common.CodeDependencyError:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, errorEnvelope{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.repo.GetActiveMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, common.NewInvalidOrder("malformed market id"))
		return
	}
	market, err := s.repo.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if market == nil {
		writeError(w, common.ErrMarketNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, common.NewInvalidOrder("malformed market id"))
		return
	}
	depth := defaultOrderbookDepth
	if q := r.URL.Query().Get("depth"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			depth = n
		}
	}
	if depth > s.orderbookSnapshotDepthMax {
		depth = s.orderbookSnapshotDepthMax
	}

	mb, ok := s.registryLookup(marketID)
	if !ok {
		writeJSON(w, http.StatusOK, common.OrderbookSnapshot{MarketID: marketID})
		return
	}
	b := mb.RLock()
	snap := b.Snapshot(depth)
	mb.RUnlock()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, common.NewInvalidOrder("malformed market id"))
		return
	}
	limit := defaultTradesLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	trades, err := s.repo.GetRecentTrades(r.Context(), marketID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type placeOrderRequest struct {
	MarketID  uuid.UUID `json:"market_id"`
	Side      string    `json:"side"`
	Price     uint64    `json:"price"`
	Size      uint64    `json:"size"`
	Wallet    string    `json:"wallet"`
	Signature string    `json:"signature"`
}

type placeOrderResponse struct {
	Order  common.Order        `json:"order"`
	Trades []common.TradeMatch `json:"trades"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.NewInvalidOrder("malformed request body"))
		return
	}

	var side common.Side
	switch req.Side {
	case "buy":
		side = common.Buy
	case "sell":
		side = common.Sell
	default:
		writeError(w, common.NewInvalidOrder("side must be buy or sell"))
		return
	}

	result, err := s.intake.PlaceOrder(r.Context(), intake.PlaceOrderRequest{
		MarketID: req.MarketID,
		UserID:   req.Wallet,
		Side:     side,
		Price:    req.Price,
		Size:     req.Size,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.OrdersPlaced.Inc()
	metrics.TradesMatched.Add(float64(len(result.Trades)))
	writeJSON(w, http.StatusOK, placeOrderResponse{Order: result.Order, Trades: result.Trades})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(mux.Vars(r)["order_id"], 10, 64)
	if err != nil {
		writeError(w, common.NewInvalidOrder("malformed order id"))
		return
	}
	order, err := s.intake.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.OrdersCancelled.Inc()
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(mux.Vars(r)["order_id"], 10, 64)
	if err != nil {
		writeError(w, common.NewInvalidOrder("malformed order id"))
		return
	}
	order, err := s.repo.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if order == nil {
		writeError(w, common.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	var marketID *uuid.UUID
	if q := r.URL.Query().Get("market_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			writeError(w, common.NewInvalidOrder("malformed market_id"))
			return
		}
		marketID = &id
	}
	orders, err := s.repo.GetUserOrders(r.Context(), wallet, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
