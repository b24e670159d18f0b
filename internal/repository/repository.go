// Package repository defines the durable-store abstraction the core talks
// to (spec.md §1: "the core sees it as an abstract Repository") and ships
// two adapters: a database/sql-over-lib/pq Postgres implementation and an
// in-memory implementation for tests and DB-less local runs.
package repository

import (
	"context"

	"github.com/google/uuid"

	"clobx/internal/common"
)

// Repository is the full persistence surface OrderIntake and
// SettlementQueue need: markets are read-only from the core's perspective,
// orders are created and transitioned, trades are created and later
// stamped with a settlement identifier.
type Repository interface {
	GetMarket(ctx context.Context, marketID uuid.UUID) (*common.Market, error)
	GetActiveMarkets(ctx context.Context) ([]common.Market, error)

	CreateOrder(ctx context.Context, order common.Order) (common.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*common.Order, error)
	GetUserOrders(ctx context.Context, userID string, marketID *uuid.UUID) ([]common.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status common.OrderStatus, filled uint64) (common.Order, error)
	CountOpenOrders(ctx context.Context, userID string) (int, error)

	CreateTrade(ctx context.Context, trade common.Trade) (common.Trade, error)
	GetRecentTrades(ctx context.Context, marketID uuid.UUID, limit int) ([]common.Trade, error)
	UpdateTradeSettlement(ctx context.Context, tradeID int64, settlementID string) (common.Trade, error)
}
