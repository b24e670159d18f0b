package book

import (
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"clobx/internal/common"
)

// location is what the id-index stores for a resting order: enough to find
// its PriceLevel directly, without holding a pointer into the level's
// slice that Go's allocator could move or invalidate on append.
type location struct {
	side  common.Side
	price uint64
}

// PriceLevels is one side of a book: price levels ordered by the
// comparator the side was constructed with (descending for bids,
// ascending for asks).
type PriceLevels = btree.BTreeG[*PriceLevel]

type priceLevels = PriceLevels

// OrderBook is one market's bids/asks, indexed by price and by order id.
// It has no internal locking: callers (normally OrderBookRegistry) are
// responsible for serializing mutation per spec.md §4.3/§5.
type OrderBook struct {
	MarketID uuid.UUID

	bids *priceLevels // sorted price descending
	asks *priceLevels // sorted price ascending

	index map[int64]location

	lastTradePrice *uint64
}

// New constructs an empty book for marketID.
func New(marketID uuid.UUID) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price
	})
	return &OrderBook{
		MarketID: marketID,
		bids:     bids,
		asks:     asks,
		index:    make(map[int64]location),
	}
}

func (b *OrderBook) levelsFor(side common.Side) *priceLevels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Add appends order as a new OrderEntry to the (side, price) level,
// creating the level if absent. Precondition: order.OrderID is not already
// indexed (spec.md §4.1 add(order)).
func (b *OrderBook) Add(order common.Order) {
	entry := &OrderEntry{
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Size:      order.Size,
		Filled:    order.Filled,
		ArrivedAt: time.Now(),
	}

	levels := b.levelsFor(order.Side)
	if lvl, ok := levels.Get(&PriceLevel{Price: order.Price}); ok {
		lvl.Orders = append(lvl.Orders, entry)
	} else {
		levels.Set(&PriceLevel{Price: order.Price, Orders: []*OrderEntry{entry}})
	}
	b.index[order.OrderID] = location{side: order.Side, price: order.Price}
}

// Remove deletes orderID from its level and the id-index, dropping the
// level if it becomes empty. Returns the removed entry, or nil if the
// order was not resting in the book.
func (b *OrderBook) Remove(orderID int64) *OrderEntry {
	loc, ok := b.index[orderID]
	if !ok {
		return nil
	}
	levels := b.levelsFor(loc.side)
	lvl, ok := levels.Get(&PriceLevel{Price: loc.price})
	if !ok {
		delete(b.index, orderID)
		return nil
	}
	i := lvl.indexOf(orderID)
	if i < 0 {
		delete(b.index, orderID)
		return nil
	}
	entry := lvl.Orders[i]
	lvl.removeAt(i)
	if len(lvl.Orders) == 0 {
		levels.Delete(lvl)
	}
	delete(b.index, orderID)
	return entry
}

// UpdateFill increments orderID's filled counter by delta; if the entry's
// remaining size reaches zero it is removed from the book (spec.md §4.1
// update_fill).
func (b *OrderBook) UpdateFill(orderID int64, delta uint64) {
	loc, ok := b.index[orderID]
	if !ok {
		return
	}
	levels := b.levelsFor(loc.side)
	lvl, ok := levels.Get(&PriceLevel{Price: loc.price})
	if !ok {
		return
	}
	i := lvl.indexOf(orderID)
	if i < 0 {
		return
	}
	lvl.Orders[i].Filled += delta
	if lvl.Orders[i].Remaining() == 0 {
		b.Remove(orderID)
	}
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (uint64, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (uint64, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// SetLastPrice records the most recent execution price.
func (b *OrderBook) SetLastPrice(price uint64) {
	p := price
	b.lastTradePrice = &p
}

// LastPrice returns the most recently recorded execution price, if any.
func (b *OrderBook) LastPrice() *uint64 {
	return b.lastTradePrice
}

// bidLevels returns up to depth resting bid levels, highest price first.
func (b *OrderBook) bidLevels(depth int) []common.OrderbookLevel {
	out := make([]common.OrderbookLevel, 0, depth)
	b.bids.Scan(func(lvl *PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		size, count := lvl.aggregate()
		out = append(out, common.OrderbookLevel{Price: lvl.Price, Size: size, OrderCount: count})
		return true
	})
	return out
}

// askLevels returns up to depth resting ask levels, lowest price first.
func (b *OrderBook) askLevels(depth int) []common.OrderbookLevel {
	out := make([]common.OrderbookLevel, 0, depth)
	b.asks.Scan(func(lvl *PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		size, count := lvl.aggregate()
		out = append(out, common.OrderbookLevel{Price: lvl.Price, Size: size, OrderCount: count})
		return true
	})
	return out
}

// Snapshot aggregates up to depth levels per side (spec.md §4.1
// snapshot(depth)).
func (b *OrderBook) Snapshot(depth int) common.OrderbookSnapshot {
	return common.OrderbookSnapshot{
		MarketID:  b.MarketID,
		Bids:      b.bidLevels(depth),
		Asks:      b.askLevels(depth),
		LastPrice: b.lastTradePrice,
		Timestamp: time.Now(),
	}
}

// AskLevelsAscending exposes the raw ask btree for the matching engine to
// walk and mutate directly; see internal/matching.
func (b *OrderBook) AskLevelsAscending() *PriceLevels { return b.asks }

// BidLevelsDescending exposes the raw bid btree for the matching engine to
// walk and mutate directly; see internal/matching.
func (b *OrderBook) BidLevelsDescending() *PriceLevels { return b.bids }

// DeleteIndex removes orderID from the id-index without touching its
// level; used by the matching engine once it has already spliced the
// entry out of the level's slice itself.
func (b *OrderBook) DeleteIndex(orderID int64) { delete(b.index, orderID) }

// IndexedOrderIDs returns the set of order ids currently tracked by the
// id-index; used by tests asserting invariant P1.
func (b *OrderBook) IndexedOrderIDs() map[int64]struct{} {
	out := make(map[int64]struct{}, len(b.index))
	for id := range b.index {
		out[id] = struct{}{}
	}
	return out
}
