package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clobx/internal/common"
)

func TestMemoryRepositoryCreateOrderDerivesStatus(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	order, err := r.CreateOrder(ctx, common.Order{OrderID: 1, UserID: "u1", Size: 10, Filled: 0})
	require.NoError(t, err)
	assert.Equal(t, common.Pending, order.Status)
	assert.False(t, order.CreatedAt.IsZero())
}

func TestMemoryRepositoryGetOrderMissingReturnsNil(t *testing.T) {
	r := NewMemoryRepository()
	o, err := r.GetOrder(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestMemoryRepositoryUpdateOrderStatusUnknownOrderErrors(t *testing.T) {
	r := NewMemoryRepository()
	_, err := r.UpdateOrderStatus(context.Background(), 999, common.Cancelled, 0)
	assert.ErrorIs(t, err, common.ErrOrderNotFound)
}

func TestMemoryRepositoryCountOpenOrdersOnlyCountsPendingAndPartial(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	_, _ = r.CreateOrder(ctx, common.Order{OrderID: 1, UserID: "u1", Size: 10})
	_, _ = r.CreateOrder(ctx, common.Order{OrderID: 2, UserID: "u1", Size: 10, Filled: 10})
	_, _ = r.UpdateOrderStatus(ctx, 2, common.Filled, 10)
	_, _ = r.CreateOrder(ctx, common.Order{OrderID: 3, UserID: "u1", Size: 10, Filled: 4})
	_, _ = r.UpdateOrderStatus(ctx, 3, common.PartiallyFilled, 4)

	n, err := r.CountOpenOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryRepositoryGetActiveMarketsFiltersInactive(t *testing.T) {
	r := NewMemoryRepository()
	active := common.Market{ID: uuid.New(), IsActive: true, CreatedAt: time.Now()}
	inactive := common.Market{ID: uuid.New(), IsActive: false, CreatedAt: time.Now()}
	r.SeedMarket(active)
	r.SeedMarket(inactive)

	markets, err := r.GetActiveMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, active.ID, markets[0].ID)
}

func TestMemoryRepositoryCreateTradeAssignsID(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	t1, err := r.CreateTrade(ctx, common.Trade{MarketID: uuid.New(), Price: 100, Size: 1})
	require.NoError(t, err)
	assert.NotZero(t, t1.ID)

	t2, err := r.CreateTrade(ctx, common.Trade{MarketID: uuid.New(), Price: 100, Size: 1})
	require.NoError(t, err)
	assert.NotEqual(t, t1.ID, t2.ID)
}

func TestMemoryRepositoryUpdateTradeSettlementSetsIdentifier(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	trade, err := r.CreateTrade(ctx, common.Trade{MarketID: uuid.New(), Price: 100, Size: 1})
	require.NoError(t, err)

	updated, err := r.UpdateTradeSettlement(ctx, trade.ID, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, updated.SettlementIdentifier)
	assert.Equal(t, "0xabc", *updated.SettlementIdentifier)
}

func TestMemoryRepositoryGetRecentTradesRespectsLimit(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	marketID := uuid.New()
	for i := 0; i < 5; i++ {
		_, err := r.CreateTrade(ctx, common.Trade{MarketID: marketID, Price: 100, Size: 1})
		require.NoError(t, err)
	}

	trades, err := r.GetRecentTrades(ctx, marketID, 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

var _ Repository = (*MemoryRepository)(nil)
