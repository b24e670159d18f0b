package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clobx/internal/common"
)

// PostgresRepository is the Repository implementation backing production
// deployments: database/sql over github.com/lib/pq, against the schema
// spec.md §6 describes (tables markets, orders, trades; order status
// values are the lowercase enum names).
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens pool against databaseURL and verifies
// connectivity.
func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Msg("connected to postgres repository")
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error { return r.db.Close() }

func (r *PostgresRepository) GetMarket(ctx context.Context, marketID uuid.UUID) (*common.Market, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, base_asset, quote_asset, base_decimals, quote_decimals,
		       min_order_size, tick_size, maker_fee_bps, taker_fee_bps,
		       is_active, created_at
		FROM markets WHERE id = $1`, marketID)

	var m common.Market
	if err := scanMarket(row, &m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.NewStorageError(err)
	}
	return &m, nil
}

func (r *PostgresRepository) GetActiveMarkets(ctx context.Context) ([]common.Market, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, base_asset, quote_asset, base_decimals, quote_decimals,
		       min_order_size, tick_size, maker_fee_bps, taker_fee_bps,
		       is_active, created_at
		FROM markets WHERE is_active = true ORDER BY created_at DESC`)
	if err != nil {
		return nil, common.NewStorageError(err)
	}
	defer rows.Close()

	var out []common.Market
	for rows.Next() {
		var m common.Market
		if err := scanMarket(rows, &m); err != nil {
			return nil, common.NewStorageError(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order common.Order) (common.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (order_id, user_id, market_id, side, price, size, filled, status)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 'pending')
		RETURNING order_id, user_id, market_id, side, price, size, filled,
		          status, settlement_identifier, created_at, updated_at`,
		order.OrderID, order.UserID, order.MarketID, order.Side.String(), order.Price, order.Size)

	var out common.Order
	if err := scanOrder(row, &out); err != nil {
		return common.Order{}, common.NewStorageError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID int64) (*common.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT order_id, user_id, market_id, side, price, size, filled,
		       status, settlement_identifier, created_at, updated_at
		FROM orders WHERE order_id = $1`, orderID)

	var o common.Order
	if err := scanOrder(row, &o); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.NewStorageError(err)
	}
	return &o, nil
}

func (r *PostgresRepository) GetUserOrders(ctx context.Context, userID string, marketID *uuid.UUID) ([]common.Order, error) {
	var rows *sql.Rows
	var err error
	if marketID != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT order_id, user_id, market_id, side, price, size, filled,
			       status, settlement_identifier, created_at, updated_at
			FROM orders WHERE user_id = $1 AND market_id = $2
			ORDER BY created_at DESC LIMIT 100`, userID, *marketID)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT order_id, user_id, market_id, side, price, size, filled,
			       status, settlement_identifier, created_at, updated_at
			FROM orders WHERE user_id = $1
			ORDER BY created_at DESC LIMIT 100`, userID)
	}
	if err != nil {
		return nil, common.NewStorageError(err)
	}
	defer rows.Close()

	var out []common.Order
	for rows.Next() {
		var o common.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, common.NewStorageError(err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status common.OrderStatus, filled uint64) (common.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders SET status = $2, filled = $3, updated_at = NOW()
		WHERE order_id = $1
		RETURNING order_id, user_id, market_id, side, price, size, filled,
		          status, settlement_identifier, created_at, updated_at`,
		orderID, status.String(), filled)

	var o common.Order
	if err := scanOrder(row, &o); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Order{}, common.ErrOrderNotFound
		}
		return common.Order{}, common.NewStorageError(err)
	}
	return o, nil
}

func (r *PostgresRepository) CountOpenOrders(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND status IN ('pending', 'partiallyfilled')`, userID).Scan(&n)
	if err != nil {
		return 0, common.NewStorageError(err)
	}
	return n, nil
}

func (r *PostgresRepository) CreateTrade(ctx context.Context, trade common.Trade) (common.Trade, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO trades (market_id, maker_order_id, taker_order_id, maker_user_id,
		                     taker_user_id, price, size, maker_fee, taker_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, market_id, maker_order_id, taker_order_id, maker_user_id,
		          taker_user_id, price, size, maker_fee, taker_fee,
		          settlement_identifier, created_at`,
		trade.MarketID, trade.MakerOrderID, trade.TakerOrderID, trade.MakerUserID,
		trade.TakerUserID, trade.Price, trade.Size, trade.MakerFee, trade.TakerFee)

	var out common.Trade
	if err := scanTrade(row, &out); err != nil {
		return common.Trade{}, common.NewStorageError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetRecentTrades(ctx context.Context, marketID uuid.UUID, limit int) ([]common.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market_id, maker_order_id, taker_order_id, maker_user_id,
		       taker_user_id, price, size, maker_fee, taker_fee,
		       settlement_identifier, created_at
		FROM trades WHERE market_id = $1
		ORDER BY created_at DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, common.NewStorageError(err)
	}
	defer rows.Close()

	var out []common.Trade
	for rows.Next() {
		var t common.Trade
		if err := scanTrade(rows, &t); err != nil {
			return nil, common.NewStorageError(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateTradeSettlement(ctx context.Context, tradeID int64, settlementID string) (common.Trade, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE trades SET settlement_identifier = $2 WHERE id = $1
		RETURNING id, market_id, maker_order_id, taker_order_id, maker_user_id,
		          taker_user_id, price, size, maker_fee, taker_fee,
		          settlement_identifier, created_at`,
		tradeID, settlementID)

	var t common.Trade
	if err := scanTrade(row, &t); err != nil {
		return common.Trade{}, common.NewStorageError(err)
	}
	return t, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(s scanner, m *common.Market) error {
	return s.Scan(&m.ID, &m.BaseAsset, &m.QuoteAsset, &m.BaseDecimals, &m.QuoteDecimals,
		&m.MinOrderSize, &m.TickSize, &m.MakerFeeBps, &m.TakerFeeBps, &m.IsActive, &m.CreatedAt)
}

func scanOrder(s scanner, o *common.Order) error {
	var side string
	var status string
	if err := s.Scan(&o.OrderID, &o.UserID, &o.MarketID, &side, &o.Price, &o.Size, &o.Filled,
		&status, &o.SettlementIdentifier, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return err
	}
	o.Side = parseSide(side)
	o.Status = parseStatus(status)
	return nil
}

func scanTrade(s scanner, t *common.Trade) error {
	return s.Scan(&t.ID, &t.MarketID, &t.MakerOrderID, &t.TakerOrderID, &t.MakerUserID,
		&t.TakerUserID, &t.Price, &t.Size, &t.MakerFee, &t.TakerFee,
		&t.SettlementIdentifier, &t.CreatedAt)
}

func parseSide(s string) common.Side {
	if s == "sell" {
		return common.Sell
	}
	return common.Buy
}

func parseStatus(s string) common.OrderStatus {
	switch s {
	case "partiallyfilled":
		return common.PartiallyFilled
	case "filled":
		return common.Filled
	case "cancelled":
		return common.Cancelled
	default:
		return common.Pending
	}
}

var _ Repository = (*PostgresRepository)(nil)
