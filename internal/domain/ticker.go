package domain

import "github.com/shopspring/decimal"

// Ticker is the top of book after an applied update, published for
// monitoring.
type Ticker struct {
	Instrument  string
	BestBid     decimal.Decimal
	BestBidSize decimal.Decimal
	BestAsk     decimal.Decimal
	BestAskSize decimal.Decimal
	Spread      decimal.Decimal
	ChangeID    int64
	Timestamp   int64
}
