// Package intake implements the order-intake pipeline: the critical section
// where validation, persistence, matching, the book, the broadcaster and
// the settlement queue are kept consistent with each other (spec.md §4.4).
package intake

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clobx/internal/book"
	"clobx/internal/broadcast"
	"clobx/internal/common"
	"clobx/internal/idgen"
	"clobx/internal/matching"
	"clobx/internal/repository"
	"clobx/internal/settlement"
)

// snapshotDepth is the fixed depth spec.md §4.4 step 6 asks for on every
// post-intake broadcast, independent of whatever depth a client requested
// on GET /markets/{id}/orderbook.
const snapshotDepth = 20

// SelfTradePolicy governs how OrderIntake handles an incoming order that
// would cross against a resting order from the same user. This is the
// open question spec.md §9 flags; Allow matches the source's unspecified
// (permissive) behavior and is the default.
type SelfTradePolicy int

const (
	// SelfTradeAllow executes the cross normally, as the original engine
	// does by omission.
	SelfTradeAllow SelfTradePolicy = iota
	// SelfTradeRejectTaker rejects the incoming order outright if its
	// first eligible match would be against its own resting order.
	SelfTradeRejectTaker
	// SelfTradeCancelOldest cancels the resting maker order instead of
	// matching against it, then continues sweeping past it.
	SelfTradeCancelOldest
)

// PlaceResult is the response to a successful place_order call.
type PlaceResult struct {
	Order  common.Order
	Trades []common.TradeMatch
}

// Intake wires together the registry, repository, matching engine,
// broadcaster and settlement queue into the place/cancel pipeline.
type Intake struct {
	registry    *book.Registry
	repo        repository.Repository
	broadcaster *broadcast.Broadcaster
	settlement  *settlement.Queue
	ids         *idgen.Generator
	selfTrade   SelfTradePolicy

	maxOpenOrdersPerUser int // 0 disables the check
}

// Option configures an Intake at construction time.
type Option func(*Intake)

// WithSelfTradePolicy overrides the default SelfTradeAllow policy.
func WithSelfTradePolicy(p SelfTradePolicy) Option {
	return func(i *Intake) { i.selfTrade = p }
}

// WithMaxOpenOrdersPerUser enables the TooManyOrders precondition from
// spec.md §4.4 ("client may pass a per-user limit on open orders").
func WithMaxOpenOrdersPerUser(n int) Option {
	return func(i *Intake) { i.maxOpenOrdersPerUser = n }
}

func New(reg *book.Registry, repo repository.Repository, b *broadcast.Broadcaster, sq *settlement.Queue, ids *idgen.Generator, opts ...Option) *Intake {
	in := &Intake{
		registry:    reg,
		repo:        repo,
		broadcaster: b,
		settlement:  sq,
		ids:         ids,
		selfTrade:   SelfTradeAllow,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// PlaceOrderRequest is the validated shape of an incoming order, after
// wire-level decoding has already produced concrete typed fields.
type PlaceOrderRequest struct {
	MarketID uuid.UUID
	UserID   string
	Side     common.Side
	Price    uint64
	Size     uint64
}

// PlaceOrder runs the full pipeline described in spec.md §4.4: precondition
// checks against market metadata, persistence as Pending, a cross against
// the market's book under its write lease, per-trade bookkeeping,
// settlement enqueueing, and a post-pipeline broadcast.
func (in *Intake) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceResult, error) {
	market, err := in.repo.GetMarket(ctx, req.MarketID)
	if err != nil {
		return PlaceResult{}, err
	}
	if market == nil {
		return PlaceResult{}, common.ErrMarketNotFound
	}
	if !market.IsActive {
		return PlaceResult{}, common.ErrMarketInactive
	}
	if req.Size < market.MinOrderSize {
		return PlaceResult{}, common.NewInvalidOrder("size below minimum")
	}
	if req.Price == 0 || req.Price%market.TickSize != 0 {
		return PlaceResult{}, common.NewInvalidOrder("price not aligned")
	}
	if in.maxOpenOrdersPerUser > 0 {
		n, err := in.repo.CountOpenOrders(ctx, req.UserID)
		if err != nil {
			return PlaceResult{}, err
		}
		if n >= in.maxOpenOrdersPerUser {
			return PlaceResult{}, common.ErrTooManyOrders
		}
	}

	orderID := in.ids.Next()
	order := common.Order{
		OrderID:  orderID,
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		Status:   common.Pending,
	}
	order, err = in.repo.CreateOrder(ctx, order)
	if err != nil {
		return PlaceResult{}, err
	}

	mb := in.registry.GetOrCreate(req.MarketID)
	b := mb.Lock()
	order, trades, snap, err := in.crossUnderLock(ctx, b, order, *market)
	mb.Unlock()
	if err != nil {
		return PlaceResult{}, err
	}

	in.broadcaster.BroadcastSnapshot(snap)
	in.broadcaster.Broadcast(req.MarketID, broadcast.TypeOrderUpdate, order)

	return PlaceResult{Order: order, Trades: trades}, nil
}

// crossUnderLock performs the matching step and the book mutation it
// implies (maker fills, taker insertion), enqueues settlement tasks, and
// persists the taker's own post-cross status, all while the caller holds
// the market's write lease — spec.md §4.4 puts the taker's status update
// under the same lock as the book mutation it reflects, so a concurrent
// cancel can never observe the book ahead of the repository. It returns
// the updated taker order, the trades produced, a fresh depth-20 snapshot
// taken before the lock is released, and the first SettlementQueue error
// encountered, if any — a full queue must fail the originating request
// per §4.6, even though the match itself already ran to completion.
func (in *Intake) crossUnderLock(ctx context.Context, b *book.OrderBook, order common.Order, market common.Market) (common.Order, []common.TradeMatch, common.OrderbookSnapshot, error) {
	var trades []common.TradeMatch
	residual := order.Remaining()
	var enqueueErr error

	selfTradeBlocked := in.selfTrade == SelfTradeRejectTaker && in.hasOwnOpposingOrder(b, order)
	if in.selfTrade == SelfTradeCancelOldest {
		in.cancelOwnOpposingOrders(ctx, b, order)
	}

	if !selfTradeBlocked {
		trades, residual = matching.Cross(b, order)
		for _, tm := range trades {
			in.applyMakerFill(ctx, b, tm)
			if err := in.enqueueSettlement(tm, market); err != nil && enqueueErr == nil {
				enqueueErr = err
			}
		}
	}

	order.Filled = order.Size - residual
	if residual > 0 {
		b.Add(order)
	}
	order.Status = common.StatusForFill(order.Size, order.Filled)

	updated, err := in.repo.UpdateOrderStatus(ctx, order.OrderID, order.Status, order.Filled)
	if err != nil {
		log.Error().Err(err).Int64("order_id", order.OrderID).Msg("failed to persist taker status after cross")
	} else {
		order = updated
	}

	snap := b.Snapshot(snapshotDepth)
	return order, trades, snap, enqueueErr
}

// opposingRange returns the opposing side's levels for order and a
// predicate reporting whether a level's price is outside order's limit,
// mirroring the range matching.Cross itself would sweep.
func opposingRange(b *book.OrderBook, order common.Order) (*book.PriceLevels, func(price uint64) bool) {
	if order.Side == common.Buy {
		return b.AskLevelsAscending(), func(price uint64) bool { return price > order.Price }
	}
	return b.BidLevelsDescending(), func(price uint64) bool { return price < order.Price }
}

// hasOwnOpposingOrder reports whether any resting order within the price
// range order would sweep belongs to order.UserID.
func (in *Intake) hasOwnOpposingOrder(b *book.OrderBook, order common.Order) bool {
	levels, outOfRange := opposingRange(b, order)
	found := false
	levels.Scan(func(lvl *book.PriceLevel) bool {
		if outOfRange(lvl.Price) {
			return false
		}
		for _, e := range lvl.Orders {
			if e.UserID == order.UserID {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// cancelOwnOpposingOrders removes every resting order within order's
// sweepable range that belongs to order.UserID, persisting each as
// Cancelled, before the cross proceeds against whatever remains.
func (in *Intake) cancelOwnOpposingOrders(ctx context.Context, b *book.OrderBook, order common.Order) {
	levels, outOfRange := opposingRange(b, order)
	var ownOrderIDs []int64
	levels.Scan(func(lvl *book.PriceLevel) bool {
		if outOfRange(lvl.Price) {
			return false
		}
		for _, e := range lvl.Orders {
			if e.UserID == order.UserID {
				ownOrderIDs = append(ownOrderIDs, e.OrderID)
			}
		}
		return true
	})
	for _, id := range ownOrderIDs {
		entry := b.Remove(id)
		if entry == nil {
			continue
		}
		if _, err := in.repo.UpdateOrderStatus(ctx, id, common.Cancelled, entry.Filled); err != nil {
			log.Error().Err(err).Int64("order_id", id).Msg("failed to persist self-trade cancellation")
		}
	}
}

// applyMakerFill persists the maker's new filled/status after one
// TradeMatch. The book itself already reflects the fill: matching.Cross
// mutates OrderEntry.Filled and removes fully-consumed entries inline.
func (in *Intake) applyMakerFill(ctx context.Context, b *book.OrderBook, tm common.TradeMatch) {
	maker, err := in.repo.GetOrder(ctx, tm.MakerOrderID)
	if err != nil || maker == nil {
		log.Error().Err(err).Int64("order_id", tm.MakerOrderID).Msg("maker order missing during fill bookkeeping")
		return
	}
	filled := maker.Filled + tm.Size
	status := common.StatusForFill(maker.Size, filled)
	updated, err := in.repo.UpdateOrderStatus(ctx, tm.MakerOrderID, status, filled)
	if err != nil {
		log.Error().Err(err).Int64("order_id", tm.MakerOrderID).Msg("failed to persist maker fill")
		return
	}
	in.broadcaster.Broadcast(tm.MarketID, broadcast.TypeOrderUpdate, updated)
}

// enqueueSettlement submits the settlement task for one trade. Per
// spec.md §4.6, a full queue is a hard failure: it returns the error to
// the caller rather than swallowing it, since the request that produced
// this trade must fail rather than silently skip settlement.
func (in *Intake) enqueueSettlement(tm common.TradeMatch, market common.Market) error {
	task := settlement.SettlementTask{
		MarketID:     market.ID.String(),
		MakerOrderID: tm.MakerOrderID,
		TakerOrderID: tm.TakerOrderID,
		MakerUserID:  tm.MakerUserID,
		TakerUserID:  tm.TakerUserID,
		Price:        tm.Price,
		Size:         tm.Size,
	}
	if err := in.settlement.Enqueue(task); err != nil {
		log.Error().Err(err).Int64("maker_order_id", tm.MakerOrderID).Int64("taker_order_id", tm.TakerOrderID).
			Msg("settlement queue full, failing request")
		return err
	}
	return nil
}

// CancelOrder implements spec.md §4.4's cancel_order contract: repository
// is the source of truth for status, the book is best-effort cleaned up
// under the market's write lease.
func (in *Intake) CancelOrder(ctx context.Context, orderID int64) (common.Order, error) {
	order, err := in.repo.GetOrder(ctx, orderID)
	if err != nil {
		return common.Order{}, err
	}
	if order == nil {
		return common.Order{}, common.ErrOrderNotFound
	}
	if order.Status != common.Pending && order.Status != common.PartiallyFilled {
		return common.Order{}, common.ErrInvalidStatus
	}

	updated, err := in.repo.UpdateOrderStatus(ctx, orderID, common.Cancelled, order.Filled)
	if err != nil {
		return common.Order{}, err
	}

	mb := in.registry.GetOrCreate(order.MarketID)
	b := mb.Lock()
	b.Remove(orderID)
	snap := b.Snapshot(snapshotDepth)
	mb.Unlock()

	in.broadcaster.BroadcastSnapshot(snap)
	in.broadcaster.Broadcast(order.MarketID, broadcast.TypeOrderUpdate, updated)

	return updated, nil
}
