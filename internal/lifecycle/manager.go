// Package lifecycle tracks the bot's belief about its own outstanding orders
// and balance, reconciling it against asynchronous exchange notifications,
// and originates quote commands under a strict one-pair-at-a-time policy.
package lifecycle

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mkorolev/deribot/internal/domain"
)

// BalancePublisher receives each balance update for external monitoring.
// Publishing is best effort; failures are logged, never fatal.
type BalancePublisher interface {
	PublishBalance(ctx context.Context, b domain.Balance) error
}

// Manager consumes order events, portfolio pushes, and strategy signals, and
// emits order commands back to the connector.
//
// One mutex owns the whole state cluster (active orders, pending request
// ids, balance). The three consumers never need more than one lock, so no
// acquisition-order hazard exists.
type Manager struct {
	orders   <-chan domain.OrderEvent
	balances <-chan domain.Balance
	signals  <-chan domain.QuotePair
	commands chan<- domain.Command

	instrument  string
	quoteAmount decimal.Decimal
	logger      *slog.Logger
	publisher   BalancePublisher

	now func() time.Time

	mu      sync.Mutex
	active  map[string]domain.Order
	pending map[uuid.UUID]struct{}
	balance domain.Balance
}

// NewManager wires a manager to its event sources and command sink. The
// quoteAmount is the contract size used for every quote leg.
func NewManager(
	orders <-chan domain.OrderEvent,
	balances <-chan domain.Balance,
	signals <-chan domain.QuotePair,
	commands chan<- domain.Command,
	instrument string,
	quoteAmount decimal.Decimal,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		orders:      orders,
		balances:    balances,
		signals:     signals,
		commands:    commands,
		instrument:  instrument,
		quoteAmount: quoteAmount,
		logger:      logger.With(slog.String("component", "lifecycle")),
		now:         time.Now,
		active:      make(map[string]domain.Order),
		pending:     make(map[uuid.UUID]struct{}),
	}
}

// SetBalancePublisher attaches an optional balance publisher. Must be called
// before Run.
func (m *Manager) SetBalancePublisher(p BalancePublisher) {
	m.publisher = p
}

// Run starts the three consumers and blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("lifecycle manager started", slog.String("instrument", m.instrument))
	defer m.logger.Info("lifecycle manager stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.consumeOrders(gctx) })
	g.Go(func() error { return m.consumeBalances(gctx) })
	g.Go(func() error { return m.consumeSignals(gctx) })
	return g.Wait()
}

func (m *Manager) consumeOrders(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.orders:
			if !ok {
				return nil
			}
			switch {
			case ev.Changed != nil:
				m.HandleOrderChanged(*ev.Changed)
			case ev.Ack != nil:
				m.HandleAck(*ev.Ack)
			case ev.Reset:
				m.HandleReset()
			}
		}
	}
}

func (m *Manager) consumeBalances(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-m.balances:
			if !ok {
				return nil
			}
			m.HandleBalance(b)
			if m.publisher != nil {
				if err := m.publisher.PublishBalance(ctx, b); err != nil {
					m.logger.Warn("balance publish failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (m *Manager) consumeSignals(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-m.signals:
			if !ok {
				return nil
			}
			m.HandleSignal(ctx, sig)
		}
	}
}

// HandleOrderChanged applies one absolute order-state push.
//
// Transition policy: an already-active order may only leave via Filled or
// Cancelled; an unknown order may only appear via Open. Everything else is a
// policy violation, logged and not applied.
func (m *Manager) HandleOrderChanged(changed domain.OrderChanged) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logger.With(
		slog.String("order_id", changed.ID),
		slog.String("status", string(changed.Status)),
	)

	if existing, ok := m.active[changed.ID]; ok {
		switch changed.Status {
		case domain.OrderFilled, domain.OrderCancelled:
			delete(m.active, changed.ID)
			log.Info("order retired",
				slog.String("side", string(existing.Side)),
				slog.Int("active", len(m.active)),
			)
		default:
			log.Warn("rejected transition for active order")
		}
		return
	}

	if changed.Status != domain.OrderOpen {
		log.Warn("rejected transition for unknown order")
		return
	}

	m.active[changed.ID] = domain.Order{
		ID:     changed.ID,
		Side:   changed.Side,
		Price:  changed.Price,
		Amount: changed.Amount,
		Status: changed.Status,
		Label:  changed.Label,
	}

	// The label carries the submission timestamp in unix milliseconds.
	if submitted, err := strconv.ParseInt(changed.Label, 10, 64); err == nil {
		roundTrip := m.now().UnixMilli() - submitted
		log.Info("order confirmed",
			slog.String("side", string(changed.Side)),
			slog.Int64("round_trip_ms", roundTrip),
		)
	} else {
		log.Info("order confirmed", slog.String("side", string(changed.Side)))
	}
}

// HandleAck clears the pending entry for an acknowledged request. The
// operation is idempotent: a duplicate ack for the same correlation id is a
// no-op. Rejections clear pending too, so a refused quote leg cannot wedge
// the quoting cycle; the reason is logged for the operator.
func (m *Manager) HandleAck(ack domain.OrderAck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[ack.RequestID]; !ok {
		return
	}
	delete(m.pending, ack.RequestID)

	if ack.Rejected {
		m.logger.Warn("quote leg rejected by exchange",
			slog.String("request_id", ack.RequestID.String()),
			slog.String("reason", ack.Reason),
			slog.Int("pending", len(m.pending)),
		)
		return
	}
	m.logger.Debug("request confirmed",
		slog.String("request_id", ack.RequestID.String()),
		slog.Int("pending", len(m.pending)),
	)
}

// HandleReset drops every pending correlation id. Called after a reconnect:
// the acks for those requests died with the old connection, and keeping the
// entries would wedge the quoting cycle until restart.
func (m *Manager) HandleReset() {
	m.mu.Lock()
	stale := len(m.pending)
	m.pending = make(map[uuid.UUID]struct{})
	m.mu.Unlock()

	if stale > 0 {
		m.logger.Warn("dropped stale pending requests after reconnect",
			slog.Int("dropped", stale),
		)
	}
}

// HandleBalance overwrites the last-known balance, last write wins.
func (m *Manager) HandleBalance(b domain.Balance) {
	m.mu.Lock()
	old := m.balance
	m.balance = b
	m.mu.Unlock()

	m.logger.Info("balance updated",
		slog.String("currency", b.Currency),
		slog.String("old", old.Amount.String()),
		slog.String("new", b.Amount.String()),
	)
}

// HandleSignal originates a new quote pair if and only if nothing is pending
// and no order is active on either side. Both correlation ids are registered
// pending before either command is forwarded, so an ack can never arrive for
// an unregistered id.
func (m *Manager) HandleSignal(ctx context.Context, sig domain.QuotePair) {
	m.mu.Lock()

	if len(m.pending) > 0 {
		m.mu.Unlock()
		m.logger.Debug("skipping signal, quotes pending", slog.Int("pending", len(m.pending)))
		return
	}

	bids, asks := 0, 0
	for _, ord := range m.active {
		if ord.Side == domain.SideBid {
			bids++
		} else {
			asks++
		}
	}
	if bids != 0 || asks != 0 {
		m.mu.Unlock()
		return
	}

	label := strconv.FormatInt(m.now().UnixMilli(), 10)

	sell := domain.Command{
		Kind:       domain.CmdMakeOrder,
		RequestID:  uuid.New(),
		Side:       domain.SideAsk,
		Instrument: m.instrument,
		Price:      sig.Ask,
		Amount:     m.quoteAmount,
		Label:      label,
	}
	buy := domain.Command{
		Kind:       domain.CmdMakeOrder,
		RequestID:  uuid.New(),
		Side:       domain.SideBid,
		Instrument: m.instrument,
		Price:      sig.Bid,
		Amount:     m.quoteAmount,
		Label:      label,
	}

	m.pending[sell.RequestID] = struct{}{}
	m.pending[buy.RequestID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("quoting pair",
		slog.String("bid", sig.Bid.String()),
		slog.String("ask", sig.Ask.String()),
		slog.String("label", label),
	)

	for _, cmd := range []domain.Command{sell, buy} {
		select {
		case <-ctx.Done():
			return
		case m.commands <- cmd:
		}
	}
}

// ActiveOrders returns a copy of the active-order set.
func (m *Manager) ActiveOrders() map[string]domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Order, len(m.active))
	for id, ord := range m.active {
		out[id] = ord
	}
	return out
}

// PendingCount returns the number of unacknowledged requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Balance returns the last-known balance.
func (m *Manager) Balance() domain.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}
