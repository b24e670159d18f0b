// Package matching implements the pure crossing algorithm: given a book
// and an incoming order, produce the trades that result and the size left
// over, per spec.md §4.2. Cross mutates the book (maker fills, level and
// index removal) but reads nothing else — it never touches the Repository,
// the Broadcaster or the SettlementQueue.
package matching

import (
	"clobx/internal/book"
	"clobx/internal/common"
)

// Cross matches incoming against the opposing side of b in price-time
// priority. incoming must not already be resting in b. Returns the trades
// produced (empty if none) and the size that remains unfilled.
//
// Execution price is always the maker's resting level price, never the
// taker's limit — this is the price-improvement guarantee spec.md §4.2
// calls out, and it is what makes TradeMatch.Price independent of which
// side initiated the cross.
func Cross(b *book.OrderBook, incoming common.Order) ([]common.TradeMatch, uint64) {
	need := incoming.Remaining()
	if need == 0 {
		return nil, 0
	}

	var trades []common.TradeMatch
	switch incoming.Side {
	case common.Buy:
		trades, need = sweep(b, b.AskLevelsAscending(), incoming, need, func(levelPrice uint64) bool {
			return levelPrice > incoming.Price
		})
	case common.Sell:
		trades, need = sweep(b, b.BidLevelsDescending(), incoming, need, func(levelPrice uint64) bool {
			return levelPrice < incoming.Price
		})
	}

	if len(trades) > 0 {
		b.SetLastPrice(trades[len(trades)-1].Price)
	}
	return trades, need
}

// sweep consumes levels (already correctly ordered for the incoming
// order's side) from the best price outward, until need is exhausted or
// the next level's price falls outside the incoming order's limit per
// outOfRange.
func sweep(
	b *book.OrderBook,
	levels *book.PriceLevels,
	incoming common.Order,
	need uint64,
	outOfRange func(levelPrice uint64) bool,
) ([]common.TradeMatch, uint64) {
	var trades []common.TradeMatch

	for need > 0 {
		lvl, ok := levels.Min()
		if !ok || outOfRange(lvl.Price) {
			break
		}

		consumed := 0
		for _, maker := range lvl.Orders {
			if need == 0 {
				break
			}

			fill := min(need, maker.Remaining())
			trades = append(trades, common.TradeMatch{
				MakerOrderID: maker.OrderID,
				MakerUserID:  maker.UserID,
				TakerOrderID: incoming.OrderID,
				TakerUserID:  incoming.UserID,
				MarketID:     incoming.MarketID,
				Price:        lvl.Price,
				Size:         fill,
			})
			maker.Filled += fill
			need -= fill

			if maker.Remaining() > 0 {
				// Partially filled: it stays head-of-queue for the next
				// incoming order, so we stop consuming this level.
				break
			}
			consumed++
			b.DeleteIndex(maker.OrderID)
		}

		if consumed > 0 {
			lvl.Orders = lvl.Orders[consumed:]
		}
		if len(lvl.Orders) == 0 {
			levels.Delete(lvl)
		}
	}

	return trades, need
}
