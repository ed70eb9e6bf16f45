package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkorolev/deribot/internal/domain"
)

// tickerTTL expires stale tickers so a dead bot is visible from the cache.
const tickerTTL = 30 * time.Second

// TickerCache publishes top-of-book and balance snapshots to Redis.
//
// Key schema:
//
//	ticker:{instrument}  - hash with bid/ask prices and sizes, spread, change id, ts
//	balance:{currency}   - hash with amount and ts
type TickerCache struct {
	rdb *redis.Client
}

// NewTickerCache creates a TickerCache backed by the given Client.
func NewTickerCache(c *Client) *TickerCache {
	return &TickerCache{rdb: c.Underlying()}
}

func tickerKey(instrument string) string { return "ticker:" + instrument }
func balanceKey(currency string) string  { return "balance:" + currency }

// PublishTicker overwrites the instrument's ticker hash.
func (tc *TickerCache) PublishTicker(ctx context.Context, t domain.Ticker) error {
	key := tickerKey(t.Instrument)

	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"bid", t.BestBid.String(),
		"bid_size", t.BestBidSize.String(),
		"ask", t.BestAsk.String(),
		"ask_size", t.BestAskSize.String(),
		"spread", t.Spread.String(),
		"change_id", strconv.FormatInt(t.ChangeID, 10),
		"ts", strconv.FormatInt(t.Timestamp, 10),
	)
	pipe.Expire(ctx, key, tickerTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish ticker %s: %w", t.Instrument, err)
	}
	return nil
}

// PublishBalance overwrites the currency's balance hash.
func (tc *TickerCache) PublishBalance(ctx context.Context, b domain.Balance) error {
	key := balanceKey(b.Currency)

	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"amount", b.Amount.String(),
		"ts", strconv.FormatInt(time.Now().UnixMilli(), 10),
	)
	pipe.Expire(ctx, key, tickerTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish balance %s: %w", b.Currency, err)
	}
	return nil
}

// GetTicker reads back the instrument's ticker hash. It returns
// domain.ErrNotFound when no ticker exists (or it has expired).
func (tc *TickerCache) GetTicker(ctx context.Context, instrument string) (map[string]string, error) {
	vals, err := tc.rdb.HGetAll(ctx, tickerKey(instrument)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get ticker %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}
	return vals, nil
}
