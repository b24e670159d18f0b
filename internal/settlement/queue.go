// Package settlement delivers matched trades to an on-chain (or noop)
// executor after they are durably recorded, per spec.md §4.6: a bounded
// queue feeding a single worker loop, at-least-once delivery, a
// ErrQueueFull error when the buffer is saturated rather than an unbounded
// backlog.
package settlement

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"clobx/internal/common"
	"clobx/internal/metrics"
	"clobx/internal/repository"
)

// Queue is a bounded channel of SettlementTask plus the single goroutine
// that drains it. Construct with NewQueue and start with Run under a
// supervising tomb; Enqueue is safe to call concurrently with Run.
type Queue struct {
	tasks    chan SettlementTask
	executor TradeExecutor
	repo     repository.Repository
}

// NewQueue builds a queue with the given buffer capacity (spec.md §6
// SETTLEMENT_QUEUE_CAPACITY).
func NewQueue(capacity int, executor TradeExecutor, repo repository.Repository) *Queue {
	return &Queue{
		tasks:    make(chan SettlementTask, capacity),
		executor: executor,
		repo:     repo,
	}
}

// Enqueue submits task for settlement without blocking. Returns
// common.ErrQueueFull if the buffer is saturated; per spec.md §4.6 and §5
// this is a hard failure and the caller (OrderIntake) MUST fail the
// originating request rather than drop the task silently.
func (q *Queue) Enqueue(task SettlementTask) error {
	select {
	case q.tasks <- task:
		metrics.SettlementQueueDepth.Set(float64(len(q.tasks)))
		return nil
	default:
		return common.ErrQueueFull
	}
}

// Depth reports the number of tasks currently buffered.
func (q *Queue) Depth() int { return len(q.tasks) }

// Run drains the queue until t is dying, then returns nil. It is started
// with t.Go under the process's supervising tomb, so it stops when another
// member of the group fails; a failed settlement is logged by process and
// never stops the loop.
func (q *Queue) Run(t *tomb.Tomb) error {
	log.Info().Msg("settlement worker starting")
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-q.tasks:
			metrics.SettlementQueueDepth.Set(float64(len(q.tasks)))
			q.process(t.Context(context.Background()), task)
		}
	}
}

// process implements spec.md §4.6 steps 1-4: resolve market fee metadata,
// compute quote amount and fees with checked arithmetic, persist an
// unsettled Trade row, then hand it to the executor. Executor failures are
// logged and the trade is left unsettled for a future reconciliation pass;
// they do not requeue the task (at-least-once applies to enqueue, not to
// retrying a failed executor call indefinitely).
func (q *Queue) process(ctx context.Context, task SettlementTask) {
	marketID, err := uuid.Parse(task.MarketID)
	if err != nil {
		log.Error().Err(err).Str("market_id", task.MarketID).Msg("settlement task carries invalid market id")
		return
	}
	market, err := q.repo.GetMarket(ctx, marketID)
	if err != nil || market == nil {
		log.Error().Err(err).Str("market_id", task.MarketID).Msg("settlement task references unknown market")
		return
	}

	quote, err := quoteAmount(task.Size, task.Price, market.BaseDecimals)
	if err != nil {
		log.Error().Err(err).Int64("maker_order_id", task.MakerOrderID).Msg("settlement quote amount overflow")
		return
	}
	makerFee := bpsOf(quote, market.MakerFeeBps)
	takerFee := bpsOf(quote, market.TakerFeeBps)

	trade, err := q.repo.CreateTrade(ctx, common.Trade{
		MarketID:     marketID,
		MakerOrderID: task.MakerOrderID,
		TakerOrderID: task.TakerOrderID,
		MakerUserID:  task.MakerUserID,
		TakerUserID:  task.TakerUserID,
		Price:        task.Price,
		Size:         task.Size,
		MakerFee:     makerFee,
		TakerFee:     takerFee,
	})
	if err != nil {
		log.Error().Err(err).Int64("maker_order_id", task.MakerOrderID).Msg("failed to persist unsettled trade")
		return
	}

	settlementID, err := q.executor.Settle(ctx, trade, *market)
	if err != nil {
		log.Error().Err(err).Int64("trade_id", trade.ID).Msg("settlement executor failed, trade left unsettled")
		return
	}
	if _, err := q.repo.UpdateTradeSettlement(ctx, trade.ID, settlementID); err != nil {
		log.Error().Err(err).Int64("trade_id", trade.ID).Msg("failed to record settlement identifier")
	}
}

// quoteAmount computes size * price / 10^baseDecimals with an overflow
// check on the multiplication, per spec.md §4.6 step 1.
func quoteAmount(size, price uint64, baseDecimals int16) (uint64, error) {
	if price != 0 && size > math.MaxUint64/price {
		return 0, common.ErrArithmeticOverflow
	}
	product := size * price
	scale := pow10(baseDecimals)
	if scale == 0 {
		return 0, common.ErrArithmeticOverflow
	}
	return product / scale, nil
}

// bpsOf computes amount * bps / 10_000, truncating, per spec.md §9's
// accepted fee-rounding behavior.
func bpsOf(amount uint64, bps int16) uint64 {
	if bps <= 0 {
		return 0
	}
	return amount * uint64(bps) / 10_000
}

func pow10(n int16) uint64 {
	if n < 0 {
		return 0
	}
	result := uint64(1)
	for i := int16(0); i < n; i++ {
		result *= 10
	}
	return result
}
