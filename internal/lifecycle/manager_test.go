package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorolev/deribot/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, chan domain.Command) {
	t.Helper()
	commands := make(chan domain.Command, 10)
	m := NewManager(
		nil, nil, nil, commands,
		"BTC-PERPETUAL",
		decimal.NewFromInt(10),
		slog.New(slog.DiscardHandler),
	)
	return m, commands
}

func openEvent(id string, side domain.Side) domain.OrderChanged {
	return domain.OrderChanged{
		ID:     id,
		Side:   side,
		Price:  decimal.NewFromInt(19000),
		Amount: decimal.NewFromInt(10),
		Status: domain.OrderOpen,
		Label:  "1665867451000",
	}
}

func statusEvent(id string, status domain.OrderStatus) domain.OrderChanged {
	ev := openEvent(id, domain.SideBid)
	ev.Status = status
	return ev
}

func TestOpenCreatesFilledRemovesOpenRecreates(t *testing.T) {
	m, _ := newTestManager(t)

	m.HandleOrderChanged(openEvent("A", domain.SideBid))
	assert.Len(t, m.ActiveOrders(), 1)

	m.HandleOrderChanged(statusEvent("A", domain.OrderFilled))
	assert.Empty(t, m.ActiveOrders())

	m.HandleOrderChanged(openEvent("A", domain.SideBid))
	assert.Len(t, m.ActiveOrders(), 1)
}

func TestNonTerminalStatusOnActiveOrderIgnored(t *testing.T) {
	m, _ := newTestManager(t)

	m.HandleOrderChanged(openEvent("A", domain.SideAsk))
	m.HandleOrderChanged(statusEvent("A", domain.OrderUntriggered))

	orders := m.ActiveOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderOpen, orders["A"].Status)

	m.HandleOrderChanged(statusEvent("A", domain.OrderCancelled))
	assert.Empty(t, m.ActiveOrders())
}

func TestNonOpenStatusForUnknownOrderIgnored(t *testing.T) {
	m, _ := newTestManager(t)

	m.HandleOrderChanged(statusEvent("ghost", domain.OrderFilled))
	m.HandleOrderChanged(statusEvent("ghost", domain.OrderRejected))
	assert.Empty(t, m.ActiveOrders())
}

func TestSignalOriginatesExactlyOnePair(t *testing.T) {
	m, commands := newTestManager(t)
	ctx := context.Background()

	sig := domain.QuotePair{
		Bid: decimal.NewFromInt(19000),
		Ask: decimal.NewFromInt(19100),
	}
	m.HandleSignal(ctx, sig)

	require.Equal(t, 2, m.PendingCount())
	require.Len(t, commands, 2)

	sell := <-commands
	buy := <-commands
	assert.Equal(t, domain.CmdMakeOrder, sell.Kind)
	assert.Equal(t, domain.SideAsk, sell.Side)
	assert.True(t, sell.Price.Equal(sig.Ask))
	assert.Equal(t, domain.SideBid, buy.Side)
	assert.True(t, buy.Price.Equal(sig.Bid))
	assert.Equal(t, sell.Label, buy.Label)
	assert.NotEqual(t, sell.RequestID, buy.RequestID)
	assert.Equal(t, "BTC-PERPETUAL", sell.Instrument)
	assert.True(t, sell.Amount.Equal(decimal.NewFromInt(10)))
}

func TestSignalSkippedWhilePending(t *testing.T) {
	m, commands := newTestManager(t)
	ctx := context.Background()

	sig := domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)}
	m.HandleSignal(ctx, sig)
	require.Len(t, commands, 2)

	m.HandleSignal(ctx, sig)
	m.HandleSignal(ctx, sig)
	assert.Len(t, commands, 2)
	assert.Equal(t, 2, m.PendingCount())
}

func TestSignalSkippedWhileOrdersActive(t *testing.T) {
	m, commands := newTestManager(t)
	ctx := context.Background()

	m.HandleOrderChanged(openEvent("A", domain.SideBid))
	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)})
	assert.Empty(t, commands)

	// Retiring the only active order reopens the quoting cycle.
	m.HandleOrderChanged(statusEvent("A", domain.OrderFilled))
	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)})
	assert.Len(t, commands, 2)
}

func TestAckClearsPendingExactlyOnce(t *testing.T) {
	m, commands := newTestManager(t)
	ctx := context.Background()

	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)})
	first := <-commands
	second := <-commands
	require.Equal(t, 2, m.PendingCount())

	// One success, one rejection: both clear their pending entries.
	m.HandleAck(domain.OrderAck{RequestID: first.RequestID})
	assert.Equal(t, 1, m.PendingCount())

	m.HandleAck(domain.OrderAck{RequestID: second.RequestID, Rejected: true, Reason: "post_only would cross"})
	assert.Equal(t, 0, m.PendingCount())

	// Duplicate and unknown acks are no-ops.
	m.HandleAck(domain.OrderAck{RequestID: first.RequestID})
	m.HandleAck(domain.OrderAck{RequestID: uuid.New()})
	assert.Equal(t, 0, m.PendingCount())

	// Only now can a third pair be originated.
	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(101), Ask: decimal.NewFromInt(111)})
	assert.Len(t, commands, 2)
}

func TestResetClearsPendingAfterReconnect(t *testing.T) {
	m, commands := newTestManager(t)
	ctx := context.Background()

	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)})
	<-commands
	<-commands
	require.Equal(t, 2, m.PendingCount())

	// The acks for both legs died with the old connection.
	m.HandleReset()
	assert.Equal(t, 0, m.PendingCount())

	// The quoting cycle is free again.
	m.HandleSignal(ctx, domain.QuotePair{Bid: decimal.NewFromInt(101), Ask: decimal.NewFromInt(111)})
	assert.Len(t, commands, 2)
}

func TestBalanceLastWriteWins(t *testing.T) {
	m, _ := newTestManager(t)

	m.HandleBalance(domain.Balance{Currency: "BTC", Amount: decimal.RequireFromString("1.5")})
	m.HandleBalance(domain.Balance{Currency: "BTC", Amount: decimal.RequireFromString("1.2")})

	assert.True(t, m.Balance().Amount.Equal(decimal.RequireFromString("1.2")))
}

func TestRoundTripUsesLabelTimestamp(t *testing.T) {
	m, _ := newTestManager(t)

	fixed := time.UnixMilli(1665867451500)
	m.now = func() time.Time { return fixed }

	// Confirmation with a parsable label must not panic and must store the
	// order; the latency itself is only logged.
	ev := openEvent("A", domain.SideBid)
	ev.Label = "1665867451000"
	m.HandleOrderChanged(ev)
	assert.Len(t, m.ActiveOrders(), 1)

	// Unparsable labels are tolerated.
	ev2 := openEvent("B", domain.SideAsk)
	ev2.Label = "not-a-timestamp"
	m.HandleOrderChanged(ev2)
	assert.Len(t, m.ActiveOrders(), 2)
}

func TestRunConsumesChannels(t *testing.T) {
	orders := make(chan domain.OrderEvent)
	balances := make(chan domain.Balance)
	signals := make(chan domain.QuotePair)
	commands := make(chan domain.Command, 10)

	m := NewManager(orders, balances, signals, commands,
		"BTC-PERPETUAL", decimal.NewFromInt(10), slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	changed := openEvent("A", domain.SideBid)
	orders <- domain.OrderEvent{Changed: &changed}
	balances <- domain.Balance{Currency: "BTC", Amount: decimal.NewFromInt(2)}
	signals <- domain.QuotePair{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(110)}

	require.Eventually(t, func() bool {
		return len(m.ActiveOrders()) == 1 && m.Balance().Amount.Equal(decimal.NewFromInt(2))
	}, time.Second, 10*time.Millisecond)

	// The active bid suppresses the quote pair.
	assert.Empty(t, commands)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
