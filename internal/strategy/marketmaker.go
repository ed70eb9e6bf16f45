// Package strategy turns order-book state into quote signals.
package strategy

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mkorolev/deribot/internal/book"
	"github.com/mkorolev/deribot/internal/domain"
)

// Book depth levels whose midpoint becomes the quote price. Quoting off the
// 3rd/4th level keeps the pair behind the touch so post-only orders survive.
const (
	innerDepth = 2
	outerDepth = 3
)

// TickerPublisher receives the top of book after each applied update.
// Publishing is best effort; failures are logged, never fatal.
type TickerPublisher interface {
	PublishTicker(ctx context.Context, t domain.Ticker) error
}

// MarketMaker consumes book deltas, maintains a local book, and emits one
// quote-pair signal per applied update. The pricing formula is a placeholder
// midpoint-of-depth computation.
type MarketMaker struct {
	books   <-chan domain.BookUpdate
	signals chan<- domain.QuotePair
	book    *book.Book
	ticker  TickerPublisher
	logger  *slog.Logger
}

// NewMarketMaker creates a strategy reading book deltas from books and
// writing signals to signals. ticker may be nil.
func NewMarketMaker(
	books <-chan domain.BookUpdate,
	signals chan<- domain.QuotePair,
	ticker TickerPublisher,
	logger *slog.Logger,
) *MarketMaker {
	return &MarketMaker{
		books:   books,
		signals: signals,
		book:    book.New(),
		ticker:  ticker,
		logger:  logger.With(slog.String("component", "strategy")),
	}
}

// Book exposes the strategy's order book for inspection.
func (s *MarketMaker) Book() *book.Book { return s.book }

// Run applies book deltas in arrival order and emits signals until the
// context is cancelled.
func (s *MarketMaker) Run(ctx context.Context) error {
	s.logger.Info("strategy started")
	defer s.logger.Info("strategy stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-s.books:
			if !ok {
				return nil
			}
			s.apply(ctx, update)
		}
	}
}

func (s *MarketMaker) apply(ctx context.Context, update domain.BookUpdate) {
	if regressed := s.book.ApplyUpdate(update); regressed {
		s.logger.Warn("book change id regressed",
			slog.String("instrument", update.Instrument),
			slog.Int64("change_id", update.ChangeID),
		)
	}

	s.publishTicker(ctx, update)

	quote, ok := s.Quote()
	if !ok {
		s.logger.Debug("book too shallow to quote")
		return
	}

	select {
	case <-ctx.Done():
	case s.signals <- quote:
	}
}

// Quote computes the current quote pair from the book: the midpoint of the
// 3rd and 4th levels on each side. ok is false while either side is too
// shallow.
func (s *MarketMaker) Quote() (domain.QuotePair, bool) {
	bidInner, ok1 := s.book.Nth(domain.SideBid, innerDepth)
	bidOuter, ok2 := s.book.Nth(domain.SideBid, outerDepth)
	askInner, ok3 := s.book.Nth(domain.SideAsk, innerDepth)
	askOuter, ok4 := s.book.Nth(domain.SideAsk, outerDepth)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.QuotePair{}, false
	}

	two := decimal.NewFromInt(2)
	return domain.QuotePair{
		Bid: bidInner.Price.Add(bidOuter.Price).Div(two),
		Ask: askInner.Price.Add(askOuter.Price).Div(two),
	}, true
}

func (s *MarketMaker) publishTicker(ctx context.Context, update domain.BookUpdate) {
	if s.ticker == nil {
		return
	}

	bestBid, okBid := s.book.Best(domain.SideBid)
	bestAsk, okAsk := s.book.Best(domain.SideAsk)
	if !okBid || !okAsk {
		return
	}
	spread, _ := s.book.Spread()

	t := domain.Ticker{
		Instrument:  update.Instrument,
		BestBid:     bestBid.Price,
		BestBidSize: bestBid.Amount,
		BestAsk:     bestAsk.Price,
		BestAskSize: bestAsk.Amount,
		Spread:      spread,
		ChangeID:    update.ChangeID,
		Timestamp:   update.Timestamp,
	}
	if err := s.ticker.PublishTicker(ctx, t); err != nil {
		s.logger.Warn("ticker publish failed", slog.String("error", err.Error()))
	}
}
