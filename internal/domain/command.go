package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandKind enumerates the outbound requests the connector can transmit.
type CommandKind string

const (
	CmdSubscribe   CommandKind = "subscribe"
	CmdUnsubscribe CommandKind = "unsubscribe"
	CmdMakeOrder   CommandKind = "make_order"
	CmdCancelOrder CommandKind = "cancel_order"
	CmdCancelAll   CommandKind = "cancel_all"
	CmdHeartbeat   CommandKind = "heartbeat"
)

// Command is one outbound request. RequestID is the correlation id echoed
// back in the exchange's acknowledgement; it is distinct from the exchange's
// order id, which the bot only learns when the order notification arrives.
//
// The struct is a flat union: each kind reads the subset of fields it needs
// and ignores the rest.
type Command struct {
	Kind      CommandKind
	RequestID uuid.UUID

	// Subscribe and Unsubscribe.
	Channels []string

	// MakeOrder.
	Side       Side
	Instrument string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Label      string

	// CancelOrder.
	OrderID string
}
