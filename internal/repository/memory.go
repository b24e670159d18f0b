package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clobx/internal/common"
)

// MemoryRepository is a mutex-guarded, dependency-free Repository. It
// backs the unit tests in this repo and lets cmd/main.go run without a
// Postgres instance when DATABASE_URL is unset.
type MemoryRepository struct {
	mu sync.RWMutex

	markets map[uuid.UUID]common.Market
	orders  map[int64]common.Order
	trades  map[int64]common.Trade
	nextRow int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		markets: make(map[uuid.UUID]common.Market),
		orders:  make(map[int64]common.Order),
		trades:  make(map[int64]common.Trade),
	}
}

// SeedMarket registers a market for lookup. Only tests call it; neither the
// core nor cmd/main.go seeds markets, so a repository built by cmd/main.go
// starts with no markets.
func (r *MemoryRepository) SeedMarket(m common.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.ID] = m
}

func (r *MemoryRepository) GetMarket(_ context.Context, marketID uuid.UUID) (*common.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[marketID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepository) GetActiveMarkets(_ context.Context) ([]common.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Market, 0, len(r.markets))
	for _, m := range r.markets {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order common.Order) (common.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Status = common.StatusForFill(order.Size, order.Filled)
	r.orders[order.OrderID] = order
	return order, nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, orderID int64) (*common.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *MemoryRepository) GetUserOrders(_ context.Context, userID string, marketID *uuid.UUID) ([]common.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []common.Order
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		if marketID != nil && o.MarketID != *marketID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > 100 {
		out = out[:100]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, orderID int64, status common.OrderStatus, filled uint64) (common.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return common.Order{}, common.ErrOrderNotFound
	}
	o.Status = status
	o.Filled = filled
	o.UpdatedAt = time.Now()
	r.orders[orderID] = o
	return o, nil
}

func (r *MemoryRepository) CountOpenOrders(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if o.UserID == userID && (o.Status == common.Pending || o.Status == common.PartiallyFilled) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateTrade(_ context.Context, trade common.Trade) (common.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRow++
	trade.ID = r.nextRow
	trade.CreatedAt = time.Now()
	r.trades[trade.ID] = trade
	return trade, nil
}

func (r *MemoryRepository) GetRecentTrades(_ context.Context, marketID uuid.UUID, limit int) ([]common.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []common.Trade
	for _, t := range r.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTradeSettlement(_ context.Context, tradeID int64, settlementID string) (common.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[tradeID]
	if !ok {
		return common.Trade{}, common.ErrOrderNotFound
	}
	id := settlementID
	t.SettlementIdentifier = &id
	r.trades[tradeID] = t
	return t, nil
}

var _ Repository = (*MemoryRepository)(nil)
