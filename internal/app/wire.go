package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mkorolev/deribot/internal/cache/redis"
	"github.com/mkorolev/deribot/internal/config"
	"github.com/mkorolev/deribot/internal/domain"
	"github.com/mkorolev/deribot/internal/lifecycle"
	"github.com/mkorolev/deribot/internal/platform/deribit"
	"github.com/mkorolev/deribot/internal/strategy"
)

// channelBuffer is the capacity of the inter-component channels. Small on
// purpose: a slow stage must slow its producers down, not buffer unboundedly.
const channelBuffer = 10

// Dependencies bundles the long-running components Run drives. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Connector *deribit.Connector
	Manager   *lifecycle.Manager
	Strategy  *strategy.MarketMaker
}

// Wire constructs the component graph from the given configuration and
// returns it together with a cleanup function to call on shutdown.
//
// The command channel is shared: the lifecycle manager writes quote commands
// to it, the connector writes heartbeat replies to it, and the connector's
// relay loop is its only reader.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	commands := make(chan domain.Command, channelBuffer)
	signals := make(chan domain.QuotePair, channelBuffer)

	// --- Redis monitoring cache (optional, enabled by a non-empty addr) ---
	var tickerCache *redis.TickerCache
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		tickerCache = redis.NewTickerCache(redisClient)
	}

	connector := deribit.NewConnector(deribit.Config{
		URL:               cfg.Deribit.URL,
		ClientID:          cfg.Deribit.ClientID,
		ClientSecret:      cfg.Deribit.ClientSecret,
		Instrument:        cfg.Deribit.Instrument,
		Currency:          cfg.Deribit.Currency,
		HeartbeatInterval: cfg.Deribit.HeartbeatIntervalSec,
		SettleDelay:       cfg.Deribit.SettleDelay.Duration,
	}, commands, commands, logger)

	manager := lifecycle.NewManager(
		connector.Orders(),
		connector.Balances(),
		signals,
		commands,
		cfg.Deribit.Instrument,
		decimal.NewFromFloat(cfg.Strategy.QuoteAmount),
		logger,
	)

	var tickerPub strategy.TickerPublisher
	if tickerCache != nil {
		manager.SetBalancePublisher(tickerCache)
		tickerPub = tickerCache
	}

	maker := strategy.NewMarketMaker(connector.Books(), signals, tickerPub, logger)

	return &Dependencies{
		Connector: connector,
		Manager:   manager,
		Strategy:  maker,
	}, cleanup, nil
}
