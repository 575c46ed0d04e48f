package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"stocksim/internal/metrics"
)

// CachedProvider wraps a Provider with a short-lived Redis read-through
// cache, so bursts of valuations for the same symbol cost one upstream call.
type CachedProvider struct {
	next Provider
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	data, err := c.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.QuoteCacheHits.Inc()
			return q, nil
		}
	}

	q, err := c.next.GetQuote(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, quoteKey(symbol), data, c.ttl)
	}
	return q, nil
}

func quoteKey(symbol string) string {
	return "stocksim:quote:" + symbol
}
