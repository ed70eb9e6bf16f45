// Package book maintains a queryable best-bid/best-ask structure from an
// ordered stream of incremental price-level mutations.
package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mkorolev/deribot/internal/domain"
)

// Level is a single price+size entry on one side of the book.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Book holds both sides of one instrument's order book. Each side is kept
// sorted ascending by price, so the best bid is the last bid level and the
// best ask is the first ask level. A transient crossed book (best bid above
// best ask) is representable and never panics.
//
// Book is safe for concurrent use.
type Book struct {
	mu           sync.RWMutex
	bids         []Level
	asks         []Level
	lastChangeID int64
}

// New returns an empty book.
func New() *Book {
	return &Book{}
}

// Apply mutates one side of the book. New and Change both upsert the level's
// absolute remaining size; Delete removes the price and is a no-op when the
// price is absent.
func (b *Book) Apply(side domain.Side, changes []domain.PriceLevelChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(side, changes)
}

// ApplyUpdate applies a full book delta (both sides) and reports whether the
// update's change id regressed relative to the previous one. A regression is
// still applied: the exchange promises non-decreasing ids, so a gap here is
// an upstream anomaly worth surfacing, not a reason to corrupt or drop state.
func (b *Book) ApplyUpdate(u domain.BookUpdate) (regressed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastChangeID != 0 && u.ChangeID < b.lastChangeID {
		regressed = true
	}
	b.lastChangeID = u.ChangeID

	b.applyLocked(domain.SideBid, u.Bids)
	b.applyLocked(domain.SideAsk, u.Asks)
	return regressed
}

func (b *Book) applyLocked(side domain.Side, changes []domain.PriceLevelChange) {
	levels := &b.asks
	if side == domain.SideBid {
		levels = &b.bids
	}
	for _, c := range changes {
		switch c.Action {
		case domain.LevelNew, domain.LevelChange:
			*levels = upsert(*levels, c.Price, c.Amount)
		case domain.LevelDelete:
			*levels = remove(*levels, c.Price)
		}
	}
}

// Best returns the top level of a side: the maximum bid price or the minimum
// ask price. ok is false when the side is empty.
func (b *Book) Best(side domain.Side) (Level, bool) {
	return b.Nth(side, 0)
}

// Nth returns the n-th level from the top of a side (0 = best).
func (b *Book) Nth(side domain.Side, n int) (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if side == domain.SideBid {
		if n < 0 || n >= len(b.bids) {
			return Level{}, false
		}
		return b.bids[len(b.bids)-1-n], true
	}
	if n < 0 || n >= len(b.asks) {
		return Level{}, false
	}
	return b.asks[n], true
}

// Spread returns best ask minus best bid. ok is false when either side is
// empty. The result may be negative while the book is transiently crossed.
func (b *Book) Spread() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return decimal.Decimal{}, false
	}
	bestBid := b.bids[len(b.bids)-1]
	bestAsk := b.asks[0]
	return bestAsk.Price.Sub(bestBid.Price), true
}

// TopN returns up to n levels from the top of a side, best first.
func (b *Book) TopN(side domain.Side, n int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.asks
	fromEnd := false
	if side == domain.SideBid {
		src = b.bids
		fromEnd = true
	}
	if n < 0 {
		n = 0
	}
	if n > len(src) {
		n = len(src)
	}
	out := make([]Level, 0, n)
	for i := 0; i < n; i++ {
		if fromEnd {
			out = append(out, src[len(src)-1-i])
		} else {
			out = append(out, src[i])
		}
	}
	return out
}

// Depth returns the number of levels on a side.
func (b *Book) Depth(side domain.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == domain.SideBid {
		return len(b.bids)
	}
	return len(b.asks)
}

// LastChangeID returns the change id of the most recently applied update.
func (b *Book) LastChangeID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastChangeID
}

func search(levels []Level, price decimal.Decimal) int {
	return sort.Search(len(levels), func(i int) bool {
		return levels[i].Price.Cmp(price) >= 0
	})
}

func upsert(levels []Level, price, amount decimal.Decimal) []Level {
	i := search(levels, price)
	if i < len(levels) && levels[i].Price.Equal(price) {
		levels[i].Amount = amount
		return levels
	}
	levels = append(levels, Level{})
	copy(levels[i+1:], levels[i:])
	levels[i] = Level{Price: price, Amount: amount}
	return levels
}

func remove(levels []Level, price decimal.Decimal) []Level {
	i := search(levels, price)
	if i < len(levels) && levels[i].Price.Equal(price) {
		return append(levels[:i], levels[i+1:]...)
	}
	return levels
}
