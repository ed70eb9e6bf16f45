package deribit

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mkorolev/deribot/internal/domain"
)

// JSON-RPC methods used against the exchange.
const (
	methodPublicSubscribe  = "public/subscribe"
	methodPrivateSubscribe = "private/subscribe"
	methodUnsubscribe      = "public/unsubscribe"
	methodSetHeartbeat     = "public/set_heartbeat"
	methodTest             = "public/test"
	methodAuth             = "public/auth"
	methodBuy              = "private/buy"
	methodSell             = "private/sell"
	methodCancel           = "private/cancel"
	methodCancelAll        = "private/cancel_all"
)

// request is the outbound JSON-RPC envelope.
type request struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      uuid.UUID `json:"id"`
	Params  any       `json:"params,omitempty"`
}

func newRequest(method string, id uuid.UUID, params any) request {
	return request{JSONRPC: "2.0", Method: method, ID: id, Params: params}
}

// encodeCommand turns an outbound intent into a wire request. The returned
// uuid is the request's correlation id: the caller-supplied one for orders,
// a fresh one otherwise.
func encodeCommand(cmd domain.Command) ([]byte, uuid.UUID, error) {
	var req request

	switch cmd.Kind {
	case domain.CmdSubscribe:
		method := methodPublicSubscribe
		if hasPrivateChannel(cmd.Channels) {
			method = methodPrivateSubscribe
		}
		req = newRequest(method, uuid.New(), channelsParams{Channels: cmd.Channels})

	case domain.CmdUnsubscribe:
		req = newRequest(methodUnsubscribe, uuid.New(), channelsParams{Channels: cmd.Channels})

	case domain.CmdMakeOrder:
		method := methodBuy
		if cmd.Side == domain.SideAsk {
			method = methodSell
		}
		req = newRequest(method, cmd.RequestID, orderParams{
			InstrumentName: cmd.Instrument,
			Price:          json.Number(cmd.Price.String()),
			Amount:         json.Number(cmd.Amount.String()),
			PostOnly:       true,
			Label:          cmd.Label,
		})

	case domain.CmdCancelOrder:
		req = newRequest(methodCancel, uuid.New(), cancelParams{OrderID: cmd.OrderID})

	case domain.CmdCancelAll:
		req = newRequest(methodCancelAll, uuid.New(), nil)

	case domain.CmdHeartbeat:
		req = newRequest(methodTest, uuid.New(), nil)

	default:
		return nil, uuid.Nil, fmt.Errorf("deribit: encode %q: %w", cmd.Kind, domain.ErrUnsupportedCommand)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("deribit: encode %q: %w", cmd.Kind, err)
	}
	return raw, req.ID, nil
}

func hasPrivateChannel(channels []string) bool {
	for _, ch := range channels {
		if strings.HasPrefix(ch, "user.") {
			return true
		}
	}
	return false
}

// inboundKind classifies a decoded inbound frame.
type inboundKind int

const (
	inboundNotification inboundKind = iota
	inboundResult
	inboundError
)

// inbound is the decoded form of one inbound text frame. The wire format
// carries no explicit discriminator; Kind is reconstructed from field
// presence.
type inbound struct {
	Kind   inboundKind
	Method string          // notifications
	Params json.RawMessage // notifications
	ID     uuid.UUID       // results and errors
	Result json.RawMessage // results
	Err    *rpcError       // errors

	// Exchange-side timing, present on results and errors.
	UsIn    uint64
	UsOut   uint64
	UsDiff  uint32
	Testnet bool
}

// wireInbound is the superset shape every inbound frame is unmarshalled into
// before classification.
type wireInbound struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      *uuid.UUID      `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	UsIn    uint64          `json:"usIn"`
	UsOut   uint64          `json:"usOut"`
	UsDiff  uint32          `json:"usDiff"`
	Testnet bool            `json:"testnet"`
}

// decodeInbound classifies a frame by field presence, in fixed order:
// an error object wins, then id+result, then a method (notification).
// Anything else is ErrDecodeFrame. The exchange occasionally omits the id on
// error responses; those still decode as errors, with a nil uuid.
func decodeInbound(raw []byte) (inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return inbound{}, fmt.Errorf("deribit: %w: %v", domain.ErrDecodeFrame, err)
	}

	msg := inbound{
		Method:  w.Method,
		Params:  w.Params,
		Result:  w.Result,
		Err:     w.Error,
		UsIn:    w.UsIn,
		UsOut:   w.UsOut,
		UsDiff:  w.UsDiff,
		Testnet: w.Testnet,
	}
	if w.ID != nil {
		msg.ID = *w.ID
	}

	switch {
	case w.Error != nil:
		msg.Kind = inboundError
	case w.ID != nil && len(w.Result) > 0:
		msg.Kind = inboundResult
	case w.Method != "":
		msg.Kind = inboundNotification
	default:
		return inbound{}, fmt.Errorf("deribit: %w: no recognizable shape", domain.ErrDecodeFrame)
	}
	return msg, nil
}

// channelClass buckets subscription channels by prefix.
type channelClass int

const (
	channelUnknown channelClass = iota
	channelBook
	channelOrders
	channelPortfolio
	channelTrades
)

func classifyChannel(channel string) channelClass {
	switch {
	case strings.HasPrefix(channel, "book."):
		return channelBook
	case strings.HasPrefix(channel, "user.orders."):
		return channelOrders
	case strings.HasPrefix(channel, "user.portfolio."):
		return channelPortfolio
	case strings.HasPrefix(channel, "trades."):
		return channelTrades
	default:
		return channelUnknown
	}
}

func decodeSubscription(params json.RawMessage) (subscriptionParams, error) {
	var sub subscriptionParams
	if err := json.Unmarshal(params, &sub); err != nil {
		return subscriptionParams{}, fmt.Errorf("deribit: subscription params: %w: %v", domain.ErrDecodeFrame, err)
	}
	if sub.Channel == "" {
		return subscriptionParams{}, fmt.Errorf("deribit: subscription params: %w: missing channel", domain.ErrDecodeFrame)
	}
	return sub, nil
}

func decodeBookUpdate(data json.RawMessage) (domain.BookUpdate, error) {
	var change wireBookChange
	if err := json.Unmarshal(data, &change); err != nil {
		return domain.BookUpdate{}, fmt.Errorf("deribit: book payload: %w: %v", domain.ErrDecodeFrame, err)
	}
	return change.toDomain(), nil
}

func decodeOrder(data json.RawMessage) (domain.OrderChanged, error) {
	var ord wireOrder
	if err := json.Unmarshal(data, &ord); err != nil {
		return domain.OrderChanged{}, fmt.Errorf("deribit: order payload: %w: %v", domain.ErrDecodeFrame, err)
	}
	if ord.OrderID == "" {
		return domain.OrderChanged{}, fmt.Errorf("deribit: order payload: %w: missing order_id", domain.ErrDecodeFrame)
	}
	return ord.toDomain(), nil
}

func decodePortfolio(data json.RawMessage) (domain.Balance, error) {
	var p wirePortfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Balance{}, fmt.Errorf("deribit: portfolio payload: %w: %v", domain.ErrDecodeFrame, err)
	}
	return p.toDomain(), nil
}

func decodeTrade(data json.RawMessage) (domain.Trade, error) {
	var t wireTrade
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Trade{}, fmt.Errorf("deribit: trade payload: %w: %v", domain.ErrDecodeFrame, err)
	}
	return t.toDomain(), nil
}
