package book

import (
	"sync"

	"github.com/google/uuid"
)

// MarketBook pairs an OrderBook with the per-market write lease spec.md
// §4.3/§5 calls for: all mutation of a given market's book is serialized
// through this lock, while readers (snapshots) may proceed concurrently
// when no writer holds it.
type MarketBook struct {
	mu   sync.RWMutex
	book *OrderBook
}

// Lock acquires the write lease and returns the book for mutation. Callers
// must call Unlock when done.
func (m *MarketBook) Lock() *OrderBook {
	m.mu.Lock()
	return m.book
}

func (m *MarketBook) Unlock() { m.mu.Unlock() }

// RLock acquires a read lease and returns the book for inspection only
// (snapshots). Callers must call RUnlock when done.
func (m *MarketBook) RLock() *OrderBook {
	m.mu.RLock()
	return m.book
}

func (m *MarketBook) RUnlock() { m.mu.RUnlock() }

// Registry maps market id to its MarketBook, lazily creating books on
// first reference (spec.md §4.3). A single registry-wide lock protects the
// map itself; it is held only long enough to resolve or create the
// per-market entry, never across a book mutation.
type Registry struct {
	mu     sync.RWMutex
	books  map[uuid.UUID]*MarketBook
}

func NewRegistry() *Registry {
	return &Registry{books: make(map[uuid.UUID]*MarketBook)}
}

// GetOrCreate returns the MarketBook for marketID, creating an empty one
// if this is the first reference. This is the only write path against the
// registry's map.
func (r *Registry) GetOrCreate(marketID uuid.UUID) *MarketBook {
	r.mu.RLock()
	mb, ok := r.books[marketID]
	r.mu.RUnlock()
	if ok {
		return mb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.books[marketID]; ok {
		return mb
	}
	mb = &MarketBook{book: New(marketID)}
	r.books[marketID] = mb
	return mb
}

// Get returns the MarketBook for marketID if one has already been
// created, without creating it. Read-only.
func (r *Registry) Get(marketID uuid.UUID) (*MarketBook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.books[marketID]
	return mb, ok
}
