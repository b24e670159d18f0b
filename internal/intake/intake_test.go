package intake

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clobx/internal/book"
	"clobx/internal/broadcast"
	"clobx/internal/common"
	"clobx/internal/idgen"
	"clobx/internal/repository"
	"clobx/internal/settlement"
)

func newTestIntake(t *testing.T, opts ...Option) (*Intake, *repository.MemoryRepository, common.Market) {
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
	ids := idgen.New()
	in := New(reg, repo, b, queue, ids, opts...)
	return in, repo, market
}

func TestPlaceOrderRejectsUnknownMarket(t *testing.T) {
	in, _, _ := newTestIntake(t)
	_, err := in.PlaceOrder(context.Background(), PlaceOrderRequest{
		MarketID: uuid.New(), UserID: "u1", Side: common.Buy, Price: 1, Size: 1,
	})
	assert.ErrorIs(t, err, common.ErrMarketNotFound)
}

func TestPlaceOrderRejectsBelowMinSize(t *testing.T) {
	repo := repository.NewMemoryRepository()
	market := common.Market{ID: uuid.New(), MinOrderSize: 10, TickSize: 1, IsActive: true, CreatedAt: time.Now()}
	repo.SeedMarket(market)
	reg := book.NewRegistry()
	queue := settlement.NewQueue(16, settlement.NoopExecutor{}, repo)
	in := New(reg, repo, broadcast.New(), queue, idgen.New())

	_, err := in.PlaceOrder(context.Background(), PlaceOrderRequest{
		MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 1, Size: 1,
	})
	assert.Error(t, err)
}

func TestPlaceOrderRejectsMisalignedPrice(t *testing.T) {
	repo := repository.NewMemoryRepository()
	market := common.Market{ID: uuid.New(), MinOrderSize: 1, TickSize: 5, IsActive: true, CreatedAt: time.Now()}
	repo.SeedMarket(market)
	reg := book.NewRegistry()
	queue := settlement.NewQueue(16, settlement.NoopExecutor{}, repo)
	in := New(reg, repo, broadcast.New(), queue, idgen.New())

	_, err := in.PlaceOrder(context.Background(), PlaceOrderRequest{
		MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 7, Size: 1,
	})
	assert.Error(t, err)
}

func TestPlaceOrderRestsWhenNoOpposingLiquidity(t *testing.T) {
	in, _, market := newTestIntake(t)
	result, err := in.PlaceOrder(context.Background(), PlaceOrderRequest{
		MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, common.Pending, result.Order.Status)
}

func TestPlaceOrderCrossesAgainstRestingOrder(t *testing.T) {
	in, _, market := newTestIntake(t)
	ctx := context.Background()

	_, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "maker", Side: common.Sell, Price: 100, Size: 10})
	require.NoError(t, err)

	result, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "taker", Side: common.Buy, Price: 100, Size: 10})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, common.Filled, result.Order.Status)
}

func TestPlaceOrderEnforcesMaxOpenOrders(t *testing.T) {
	in, _, market := newTestIntake(t, WithMaxOpenOrdersPerUser(1))
	ctx := context.Background()

	_, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 1})
	require.NoError(t, err)

	_, err = in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 101, Size: 1})
	assert.ErrorIs(t, err, common.ErrTooManyOrders)
}

func TestSelfTradeRejectTakerBlocksCrossAgainstOwnOrder(t *testing.T) {
	in, _, market := newTestIntake(t, WithSelfTradePolicy(SelfTradeRejectTaker))
	ctx := context.Background()

	_, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Sell, Price: 100, Size: 10})
	require.NoError(t, err)

	result, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, common.Pending, result.Order.Status)
}

func TestSelfTradeCancelOldestRemovesOwnRestingOrderFirst(t *testing.T) {
	in, repo, market := newTestIntake(t, WithSelfTradePolicy(SelfTradeCancelOldest))
	ctx := context.Background()

	maker, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Sell, Price: 100, Size: 10})
	require.NoError(t, err)

	result, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, common.Pending, result.Order.Status)

	cancelled, err := repo.GetOrder(ctx, maker.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)
}

func TestSelfTradeAllowCrossesNormally(t *testing.T) {
	in, _, market := newTestIntake(t, WithSelfTradePolicy(SelfTradeAllow))
	ctx := context.Background()

	_, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Sell, Price: 100, Size: 10})
	require.NoError(t, err)

	result, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 10})
	require.NoError(t, err)
	assert.Len(t, result.Trades, 1)
}

func TestCancelOrderRemovesFromBookAndMarksCancelled(t *testing.T) {
	in, repo, market := newTestIntake(t)
	ctx := context.Background()

	placed, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "u1", Side: common.Buy, Price: 100, Size: 10})
	require.NoError(t, err)

	cancelled, err := in.CancelOrder(ctx, placed.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)

	stored, err := repo.GetOrder(ctx, placed.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, stored.Status)
}

func TestCancelOrderRejectsAlreadyFilledOrder(t *testing.T) {
	in, _, market := newTestIntake(t)
	ctx := context.Background()

	_, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "maker", Side: common.Sell, Price: 100, Size: 5})
	require.NoError(t, err)
	taker, err := in.PlaceOrder(ctx, PlaceOrderRequest{MarketID: market.ID, UserID: "taker", Side: common.Buy, Price: 100, Size: 5})
	require.NoError(t, err)
	require.Equal(t, common.Filled, taker.Order.Status)

	_, err = in.CancelOrder(ctx, taker.Order.OrderID)
	assert.ErrorIs(t, err, common.ErrInvalidStatus)
}

func TestCancelOrderUnknownOrderErrors(t *testing.T) {
	in, _, _ := newTestIntake(t)
	_, err := in.CancelOrder(context.Background(), 99999)
	assert.ErrorIs(t, err, common.ErrOrderNotFound)
}
