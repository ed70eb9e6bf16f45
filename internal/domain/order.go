package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the side of the book an order rests on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// OrderStatus is the absolute order state as reported by the exchange.
type OrderStatus string

const (
	OrderOpen        OrderStatus = "open"
	OrderFilled      OrderStatus = "filled"
	OrderRejected    OrderStatus = "rejected"
	OrderCancelled   OrderStatus = "cancelled"
	OrderUntriggered OrderStatus = "untriggered"
)

// Order is one outstanding exchange order as the bot believes it to be.
// The Label carries the caller-assigned correlation token; the quoting loop
// uses the submission timestamp in milliseconds so round-trip latency can be
// measured when the exchange confirms the order.
type Order struct {
	ID     string
	Side   Side
	Price  decimal.Decimal
	Amount decimal.Decimal
	Status OrderStatus
	Label  string
}

// OrderChanged mirrors an absolute order-state push from the exchange's
// user.orders channel.
type OrderChanged struct {
	ID     string
	Side   Side
	Price  decimal.Decimal
	Amount decimal.Decimal
	Status OrderStatus
	Label  string
}

// OrderAck reports that the exchange answered a request, successfully or not.
// Rejections carry the exchange's reason so the operator can see why a quote
// leg never became active.
type OrderAck struct {
	RequestID uuid.UUID
	Rejected  bool
	Reason    string
}

// OrderEvent is the union carried on the order channel. Exactly one of
// Changed, Ack, or Reset is set. Reset marks a session reconnect: replies to
// requests that were in flight when the old connection died will never
// arrive.
type OrderEvent struct {
	Changed *OrderChanged
	Ack     *OrderAck
	Reset   bool
}

// Balance is the last-known account equity from the portfolio stream.
type Balance struct {
	Currency string
	Amount   decimal.Decimal
}

// QuotePair is a strategy signal: one bid and one ask price to quote as a
// unit.
type QuotePair struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}
