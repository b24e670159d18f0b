package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clobx/internal/book"
	"clobx/internal/broadcast"
	"clobx/internal/common"
	"clobx/internal/idgen"
	"clobx/internal/intake"
	"clobx/internal/repository"
	"clobx/internal/settlement"
)

func newTestServer(t *testing.T) (*Server, *repository.MemoryRepository, common.Market) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	market := common.Market{
		ID:           uuid.New(),
		MinOrderSize: 1,
		TickSize:     1,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	repo.SeedMarket(market)

	reg := book.NewRegistry()
	b := broadcast.New()
	queue := settlement.NewQueue(16, settlement.NoopExecutor{}, repo)
	in := intake.New(reg, repo, b, queue, idgen.New())

	return NewServer(repo, in, b, reg, 200), repo, market
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListMarketsReturnsSeededMarket(t *testing.T) {
	srv, _, market := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/markets", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var markets []common.Market
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, market.ID, markets[0].ID)
}

func TestHandleGetMarketUnknownIDReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/markets/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePlaceOrderRoundTrip(t *testing.T) {
	srv, _, market := newTestServer(t)
	body, err := json.Marshal(placeOrderRequest{
		MarketID: market.ID,
		Side:     "buy",
		Price:    100,
		Size:     10,
		Wallet:   "wallet-1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp placeOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, common.Pending, resp.Order.Status)
	assert.Empty(t, resp.Trades)
}

func TestHandlePlaceOrderInvalidSideReturns400(t *testing.T) {
	srv, _, market := newTestServer(t)
	body, err := json.Marshal(placeOrderRequest{MarketID: market.ID, Side: "sideways", Price: 1, Size: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOrderbookUnknownMarketReturnsEmptySnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/markets/"+uuid.New().String()+"/orderbook", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap common.OrderbookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}
