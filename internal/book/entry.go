// Package book implements the in-memory order book: per-market price
// levels holding FIFO queues of resting orders, indexed for O(log P)
// level lookups; an order-id index gives each resting order's level
// directly, and cancel/fill updates then scan that one level's queue.
package book

import "time"

// OrderEntry is the book's view of a resting order: just enough to match
// against and to aggregate into a snapshot. It mirrors the persisted
// Order's order id, user and size/filled counters, plus the arrival
// timestamp used as the FIFO tiebreaker within a level.
type OrderEntry struct {
	OrderID   int64
	UserID    string
	Size      uint64
	Filled    uint64
	ArrivedAt time.Time
}

// Remaining is how much of the entry has not yet been filled.
func (e *OrderEntry) Remaining() uint64 {
	if e.Filled >= e.Size {
		return 0
	}
	return e.Size - e.Filled
}

// PriceLevel is the FIFO queue of resting orders at one price on one side.
// Orders is ordered by arrival, head (index 0) first; entries whose
// Remaining hits zero are removed synchronously, never left as dead
// weight in the slice.
type PriceLevel struct {
	Price  uint64
	Orders []*OrderEntry
}

// aggregate reduces the level to the (price, size, order_count) triple a
// snapshot reports.
func (l *PriceLevel) aggregate() (size uint64, count int) {
	for _, e := range l.Orders {
		size += e.Remaining()
	}
	return size, len(l.Orders)
}

// removeAt deletes the entry at index i, preserving FIFO order of the
// remainder.
func (l *PriceLevel) removeAt(i int) {
	l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
}

// indexOf finds an entry by order id, or -1.
func (l *PriceLevel) indexOf(orderID int64) int {
	for i, e := range l.Orders {
		if e.OrderID == orderID {
			return i
		}
	}
	return -1
}
