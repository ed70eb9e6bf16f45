// Package deribit implements the exchange connector and wire codec for the
// Deribit JSON-RPC v2 websocket API.
package deribit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mkorolev/deribot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// maxReconnectDelay caps the exponential backoff between redial attempts.
	maxReconnectDelay = 60 * time.Second

	// eventBuffer is the capacity of each fan-out channel. A full channel
	// blocks dispatch, which in turn stalls the read loop: backpressure from
	// a slow consumer deliberately reaches all the way to the socket.
	eventBuffer = 10
)

// Config holds the connector's endpoint, credentials, and session parameters.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string
	Instrument   string
	Currency     string

	// HeartbeatInterval is the server-side heartbeat interval in seconds
	// requested on session entry.
	HeartbeatInterval int

	// SettleDelay is the pause between the private subscriptions and the
	// book subscription. Auth and the private subscriptions must be accepted
	// by the exchange before book data starts flowing, otherwise early book
	// frames race the subscription acks.
	SettleDelay time.Duration

	// WriteTimeout bounds each websocket write. Zero means the default.
	WriteTimeout time.Duration
}

// Connector owns one logical websocket connection to the exchange. It runs a
// read loop that decodes inbound frames and fans them out over typed
// channels, and a command-relay loop that serializes outbound requests. On
// transport failure it reconnects with exponential backoff and replays the
// full session-entry sequence, subscriptions included.
type Connector struct {
	cfg    Config
	logger *slog.Logger

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	bookCh    chan domain.BookUpdate
	orderCh   chan domain.OrderEvent
	balanceCh chan domain.Balance

	// commands is the relay input; feedback loops heartbeat replies back
	// through the same command stream the lifecycle manager writes to.
	commands <-chan domain.Command
	feedback chan<- domain.Command
}

// NewConnector creates a connector that transmits commands from the given
// channel and answers exchange heartbeats by enqueuing a heartbeat command on
// feedback. Call Run to connect and start the loops.
func NewConnector(cfg Config, commands <-chan domain.Command, feedback chan<- domain.Command, logger *slog.Logger) *Connector {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = writeWait
	}
	return &Connector{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "connector")),
		bookCh:    make(chan domain.BookUpdate, eventBuffer),
		orderCh:   make(chan domain.OrderEvent, eventBuffer),
		balanceCh: make(chan domain.Balance, eventBuffer),
		commands:  commands,
		feedback:  feedback,
	}
}

// Books is the stream of decoded order-book deltas.
func (c *Connector) Books() <-chan domain.BookUpdate { return c.bookCh }

// Orders is the stream of order-state pushes and command acknowledgements.
func (c *Connector) Orders() <-chan domain.OrderEvent { return c.orderCh }

// Balances is the stream of portfolio balance updates.
func (c *Connector) Balances() <-chan domain.Balance { return c.balanceCh }

// Run connects, enters the session, and blocks running the read and
// command-relay loops until the context is cancelled or an unrecoverable
// error occurs.
func (c *Connector) Run(ctx context.Context) error {
	if err := c.establish(ctx); err != nil {
		return fmt.Errorf("deribit: connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.commandLoop(gctx) })
	g.Go(func() error {
		// Closing the socket unblocks the read loop on cancellation.
		<-gctx.Done()
		c.closeConn()
		return gctx.Err()
	})

	err := g.Wait()
	c.closeConn()
	return err
}

// establish dials and enters the session, retrying with exponential backoff
// until it succeeds or the context is cancelled.
func (c *Connector) establish(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectDelay

	for {
		err := c.dialAndEnter(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sleep := bo.NextBackOff()
		c.logger.Warn("connection attempt failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", sleep),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// dialAndEnter performs one connection attempt: dial, then the session-entry
// sequence (heartbeat interval, auth, private subscriptions, settle delay,
// book subscription). The ordering matters: auth must complete before the
// exchange accepts private-channel subscriptions.
func (c *Connector) dialAndEnter(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if err := c.enterSession(ctx); err != nil {
		c.closeConn()
		return err
	}

	c.logger.Info("session established",
		slog.String("url", c.cfg.URL),
		slog.String("instrument", c.cfg.Instrument),
	)
	return nil
}

func (c *Connector) enterSession(ctx context.Context) error {
	if err := c.sendRequest(newRequest(methodSetHeartbeat, uuid.New(), heartbeatParams{Interval: c.cfg.HeartbeatInterval})); err != nil {
		return fmt.Errorf("set_heartbeat: %w", err)
	}

	if err := c.sendRequest(newRequest(methodAuth, uuid.New(), authParams{
		GrantType:    "client_credentials",
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	private := channelsParams{Channels: []string{
		"user.orders." + c.cfg.Instrument + ".raw",
		"user.portfolio." + c.cfg.Currency,
	}}
	if err := c.sendRequest(newRequest(methodPrivateSubscribe, uuid.New(), private)); err != nil {
		return fmt.Errorf("private subscribe: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
	}

	book := channelsParams{Channels: []string{"book." + c.cfg.Instrument + ".raw"}}
	if err := c.sendRequest(newRequest(methodPublicSubscribe, uuid.New(), book)); err != nil {
		return fmt.Errorf("book subscribe: %w", err)
	}
	return nil
}

// readLoop blocks on the next inbound frame, decodes it, and dispatches.
// Exactly one frame is processed per iteration. Transport errors and close
// frames trigger a reconnect; decode failures drop the frame.
func (c *Connector) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn := c.current()
		if conn == nil {
			return domain.ErrNotConnected
		}

		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("transport read failed, reconnecting",
				slog.String("error", err.Error()),
			)
			if err := c.establish(ctx); err != nil {
				return fmt.Errorf("deribit: reconnect: %w", err)
			}
			// Replies to requests in flight at disconnect died with the old
			// connection; tell the lifecycle layer to drop their pending ids.
			c.emitOrder(ctx, domain.OrderEvent{Reset: true})
			continue
		}

		if msgType != websocket.TextMessage {
			c.logger.Warn("unexpected frame type", slog.Int("type", msgType))
			continue
		}

		c.dispatch(ctx, raw)
	}
}

// dispatch decodes one text frame and routes it to the right channel. Both
// Result and Error frames become acknowledgements keyed by correlation id:
// a rejected request must still clear its pending entry, otherwise the
// lifecycle stays stuck waiting for a confirmation that will never come.
func (c *Connector) dispatch(ctx context.Context, raw []byte) {
	msg, err := decodeInbound(raw)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}

	switch msg.Kind {
	case inboundResult:
		c.logger.Debug("request acknowledged",
			slog.String("request_id", msg.ID.String()),
			slog.Uint64("us_diff", uint64(msg.UsDiff)),
		)
		c.emitOrder(ctx, domain.OrderEvent{Ack: &domain.OrderAck{RequestID: msg.ID}})

	case inboundError:
		c.logger.Error("request rejected",
			slog.String("request_id", msg.ID.String()),
			slog.Int("code", msg.Err.Code),
			slog.String("message", msg.Err.Message),
		)
		c.emitOrder(ctx, domain.OrderEvent{Ack: &domain.OrderAck{
			RequestID: msg.ID,
			Rejected:  true,
			Reason:    msg.Err.Message,
		}})

	case inboundNotification:
		c.dispatchNotification(ctx, msg)
	}
}

func (c *Connector) dispatchNotification(ctx context.Context, msg inbound) {
	switch msg.Method {
	case "subscription":
		sub, err := decodeSubscription(msg.Params)
		if err != nil {
			c.logger.Warn("dropping subscription frame", slog.String("error", err.Error()))
			return
		}
		c.dispatchSubscription(ctx, sub)

	case "heartbeat":
		c.logger.Debug("heartbeat received")
		select {
		case <-ctx.Done():
		case c.feedback <- domain.Command{Kind: domain.CmdHeartbeat}:
		}

	default:
		c.logger.Warn("unexpected notification method", slog.String("method", msg.Method))
	}
}

func (c *Connector) dispatchSubscription(ctx context.Context, sub subscriptionParams) {
	switch classifyChannel(sub.Channel) {
	case channelBook:
		update, err := decodeBookUpdate(sub.Data)
		if err != nil {
			c.logger.Warn("dropping book frame", slog.String("error", err.Error()))
			return
		}
		select {
		case <-ctx.Done():
		case c.bookCh <- update:
		}

	case channelOrders:
		changed, err := decodeOrder(sub.Data)
		if err != nil {
			c.logger.Warn("dropping order frame", slog.String("error", err.Error()))
			return
		}
		c.emitOrder(ctx, domain.OrderEvent{Changed: &changed})

	case channelPortfolio:
		balance, err := decodePortfolio(sub.Data)
		if err != nil {
			c.logger.Warn("dropping portfolio frame", slog.String("error", err.Error()))
			return
		}
		select {
		case <-ctx.Done():
		case c.balanceCh <- balance:
		}

	case channelTrades:
		trade, err := decodeTrade(sub.Data)
		if err != nil {
			c.logger.Warn("dropping trade frame", slog.String("error", err.Error()))
			return
		}
		c.logger.Info("trade",
			slog.String("instrument", trade.Instrument),
			slog.String("side", string(trade.Side)),
			slog.String("price", trade.Price.String()),
			slog.String("amount", trade.Amount.String()),
		)

	default:
		c.logger.Warn("dropping frame",
			slog.String("channel", sub.Channel),
			slog.String("error", domain.ErrUnknownChannel.Error()),
		)
	}
}

func (c *Connector) emitOrder(ctx context.Context, ev domain.OrderEvent) {
	select {
	case <-ctx.Done():
	case c.orderCh <- ev:
	}
}

// commandLoop pulls commands off the queue, encodes them, and writes them to
// the transport one at a time.
func (c *Connector) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-c.commands:
			if !ok {
				return nil
			}
			raw, reqID, err := encodeCommand(cmd)
			if err != nil {
				c.logger.Warn("dropping command", slog.String("error", err.Error()))
				continue
			}
			if err := c.send(raw); err != nil {
				c.logger.Error("command send failed",
					slog.String("kind", string(cmd.Kind)),
					slog.String("request_id", reqID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.logger.Debug("command sent",
				slog.String("kind", string(cmd.Kind)),
				slog.String("request_id", reqID.String()),
			)
		}
	}
}

func (c *Connector) sendRequest(req request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.Method, err)
	}
	return c.send(raw)
}

// send writes one frame. Writers serialize on writeMu so concurrent command
// originators cannot interleave partial frames.
func (c *Connector) send(raw []byte) error {
	conn := c.current()
	if conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Connector) current() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// closeConn writes the close frame and tears the connection down. It takes
// writeMu first: the close frame must not interleave with a command write in
// flight on another goroutine. send never holds connMu while waiting for
// writeMu, so the ordering cannot cycle.
func (c *Connector) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
}
