package domain

import "github.com/shopspring/decimal"

// PriceLevelAction says what a book delta does to one price level.
type PriceLevelAction string

const (
	LevelNew    PriceLevelAction = "new"
	LevelChange PriceLevelAction = "change"
	LevelDelete PriceLevelAction = "delete"
)

// PriceLevelChange is one row of a book delta. Amount is the absolute resting
// size at Price after the change, not an increment.
type PriceLevelChange struct {
	Action PriceLevelAction
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// BookUpdate is one decoded order-book delta frame. ChangeID is the
// exchange's monotonically increasing sequence number for the instrument.
type BookUpdate struct {
	Timestamp  int64
	Instrument string
	ChangeID   int64
	Bids       []PriceLevelChange
	Asks       []PriceLevelChange
}

// Trade is one public trade print.
type Trade struct {
	ID         string
	Instrument string
	Side       Side
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Timestamp  int64
	Seq        int64
}
