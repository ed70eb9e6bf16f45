package deribit

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/mkorolev/deribot/internal/domain"
)

// Wire-level payload types for the Deribit JSON-RPC v2 API. These mirror the
// exchange's field names; converters at the bottom translate them into the
// domain model so nothing outside this package sees exchange-specific shapes.

type rpcError struct {
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Request parameter variants.

type channelsParams struct {
	Channels []string `json:"channels"`
}

type heartbeatParams struct {
	Interval int `json:"interval"`
}

type authParams struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type orderParams struct {
	InstrumentName string      `json:"instrument_name"`
	Price          json.Number `json:"price"`
	Amount         json.Number `json:"amount"`
	PostOnly       bool        `json:"post_only"`
	Label          string      `json:"label"`
}

type cancelParams struct {
	OrderID string `json:"order_id"`
}

// subscriptionParams is the envelope of every "subscription" notification.
type subscriptionParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// wireOrder is the user.orders payload. Only the fields the lifecycle layer
// consumes are declared; the exchange sends many more, which decode ignores.
type wireOrder struct {
	OrderID             string          `json:"order_id"`
	OrderState          string          `json:"order_state"`
	Direction           string          `json:"direction"`
	Price               decimal.Decimal `json:"price"`
	Amount              decimal.Decimal `json:"amount"`
	FilledAmount        decimal.Decimal `json:"filled_amount"`
	AveragePrice        decimal.Decimal `json:"average_price"`
	Label               string          `json:"label"`
	InstrumentName      string          `json:"instrument_name"`
	TimeInForce         string          `json:"time_in_force"`
	OrderType           string          `json:"order_type"`
	PostOnly            bool            `json:"post_only"`
	CreationTimestamp   int64           `json:"creation_timestamp"`
	LastUpdateTimestamp int64           `json:"last_update_timestamp"`
}

// wirePortfolio is the user.portfolio payload.
type wirePortfolio struct {
	Currency           string          `json:"currency"`
	Balance            decimal.Decimal `json:"balance"`
	Equity             decimal.Decimal `json:"equity"`
	AvailableFunds     decimal.Decimal `json:"available_funds"`
	MarginBalance      decimal.Decimal `json:"margin_balance"`
	InitialMargin      decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin  decimal.Decimal `json:"maintenance_margin"`
	SessionRPL         decimal.Decimal `json:"session_rpl"`
	SessionUPL         decimal.Decimal `json:"session_upl"`
	TotalPL            decimal.Decimal `json:"total_pl"`
	AvailableWithdraw  decimal.Decimal `json:"available_withdrawal_funds"`
	PortfolioMargining bool            `json:"portfolio_margining_enabled"`
}

// wireTrade is the trades channel payload.
type wireTrade struct {
	TradeID        string          `json:"trade_id"`
	TradeSeq       int64           `json:"trade_seq"`
	InstrumentName string          `json:"instrument_name"`
	Direction      string          `json:"direction"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	IndexPrice     decimal.Decimal `json:"index_price"`
	MarkPrice      decimal.Decimal `json:"mark_price"`
	Timestamp      int64           `json:"timestamp"`
}

// wireBookChange is the book channel payload. Rows arrive either as
// [price, amount] or ["action", price, amount]; bookRow normalizes both.
type wireBookChange struct {
	Timestamp      int64     `json:"timestamp"`
	InstrumentName string    `json:"instrument_name"`
	ChangeID       int64     `json:"change_id"`
	Bids           []bookRow `json:"bids"`
	Asks           []bookRow `json:"asks"`
}

type bookRow struct {
	Action domain.PriceLevelAction
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// UnmarshalJSON accepts both row shapes. Two-element rows default to action
// "new".
func (r *bookRow) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	r.Action = domain.LevelNew
	if len(parts) == 3 {
		var action string
		if err := json.Unmarshal(parts[0], &action); err != nil {
			return err
		}
		r.Action = domain.PriceLevelAction(action)
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return domain.ErrDecodeFrame
	}
	if err := json.Unmarshal(parts[0], &r.Price); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &r.Amount)
}

// ---------------------------------------------------------------------------
// Domain converters
// ---------------------------------------------------------------------------

func sideFromDirection(dir string) domain.Side {
	if dir == "sell" {
		return domain.SideAsk
	}
	return domain.SideBid
}

func (o *wireOrder) toDomain() domain.OrderChanged {
	return domain.OrderChanged{
		ID:     o.OrderID,
		Side:   sideFromDirection(o.Direction),
		Price:  o.Price,
		Amount: o.Amount,
		Status: domain.OrderStatus(o.OrderState),
		Label:  o.Label,
	}
}

func (p *wirePortfolio) toDomain() domain.Balance {
	return domain.Balance{Currency: p.Currency, Amount: p.Balance}
}

func (t *wireTrade) toDomain() domain.Trade {
	return domain.Trade{
		ID:         t.TradeID,
		Instrument: t.InstrumentName,
		Side:       sideFromDirection(t.Direction),
		Price:      t.Price,
		Amount:     t.Amount,
		Timestamp:  t.Timestamp,
		Seq:        t.TradeSeq,
	}
}

func (c *wireBookChange) toDomain() domain.BookUpdate {
	return domain.BookUpdate{
		Timestamp:  c.Timestamp,
		Instrument: c.InstrumentName,
		ChangeID:   c.ChangeID,
		Bids:       rowsToDomain(c.Bids),
		Asks:       rowsToDomain(c.Asks),
	}
}

func rowsToDomain(rows []bookRow) []domain.PriceLevelChange {
	out := make([]domain.PriceLevelChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PriceLevelChange{Action: r.Action, Price: r.Price, Amount: r.Amount})
	}
	return out
}
