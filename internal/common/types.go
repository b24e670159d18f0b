// Package common holds the data model shared by every component of the
// matching engine: markets, orders, trades and the small value types they
// are built from.
package common

import (
	"time"

	"github.com/google/uuid"
)

// Side is which side of a market an order rests on.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderStatus is the lifecycle state of an Order. See the invariants on
// Order for how filled/status/cancellation interact.
type OrderStatus int

const (
	Pending OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case PartiallyFilled:
		return "partiallyfilled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Market is the configuration of one tradeable pair. Immutable after
// creation save for IsActive.
type Market struct {
	ID            uuid.UUID // opaque market identifier
	BaseAsset     string    // opaque base asset identifier
	QuoteAsset    string    // opaque quote asset identifier
	BaseDecimals  int16     // base asset decimal scale
	QuoteDecimals int16     // quote asset decimal scale
	MinOrderSize  uint64    // minimum order size, base units
	TickSize      uint64    // minimum price increment, quote units
	MakerFeeBps   int16     // 0..=100
	TakerFeeBps   int16     // 0..=100
	IsActive      bool
	CreatedAt     time.Time
}

// Order is a user-submitted intent to trade. OrderID is allocated from a
// monotonic strictly-increasing source (see internal/idgen); it is globally
// unique and distinct from the row's database primary key.
type Order struct {
	OrderID              int64
	UserID               string // opaque user/wallet identifier
	MarketID             uuid.UUID
	Side                 Side
	Price                uint64
	Size                 uint64
	Filled               uint64
	Status               OrderStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SettlementIdentifier *string // set once a trade involving this order settles downstream
}

// Remaining is how much of the order has not yet been filled.
func (o Order) Remaining() uint64 {
	if o.Filled >= o.Size {
		return 0
	}
	return o.Size - o.Filled
}

// InBook reports whether the order should be resting in the in-memory book
// (invariant I6).
func (o Order) InBook() bool {
	return (o.Status == Pending || o.Status == PartiallyFilled) && o.Filled < o.Size
}

// StatusForFill derives the status implied by a cumulative filled amount,
// per invariants I2-I4.
func StatusForFill(size, filled uint64) OrderStatus {
	switch {
	case filled >= size:
		return Filled
	case filled > 0:
		return PartiallyFilled
	default:
		return Pending
	}
}

// TradeMatch is the ephemeral output of a single fill produced by the
// matching engine: one maker order partially or fully consumed by one
// taker order, at the maker's resting price.
type TradeMatch struct {
	MakerOrderID int64
	MakerUserID  string
	TakerOrderID int64
	TakerUserID  string
	MarketID     uuid.UUID
	Price        uint64
	Size         uint64
}

// Trade is the durable record of a TradeMatch plus computed fees and
// settlement bookkeeping.
type Trade struct {
	ID                   int64
	MarketID             uuid.UUID
	MakerOrderID         int64
	TakerOrderID         int64
	MakerUserID          string
	TakerUserID          string
	Price                uint64
	Size                 uint64
	MakerFee             uint64
	TakerFee             uint64
	SettlementIdentifier *string
	CreatedAt            time.Time
}

// OrderbookLevel is one aggregated price/size row of a snapshot.
type OrderbookLevel struct {
	Price      uint64 `json:"price"`
	Size       uint64 `json:"size"`
	OrderCount int    `json:"order_count"`
}

// OrderbookSnapshot is the top-N aggregated view of both sides of a book
// at one point in time.
type OrderbookSnapshot struct {
	MarketID   uuid.UUID        `json:"market_id"`
	Bids       []OrderbookLevel `json:"bids"`
	Asks       []OrderbookLevel `json:"asks"`
	LastPrice  *uint64          `json:"last_price,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
