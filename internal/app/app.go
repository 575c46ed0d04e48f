// Package app assembles the storage, quote and domain services shared by the
// API server and the background worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"stocksim/internal/config"
	"stocksim/internal/db"
	"stocksim/internal/debate"
	"stocksim/internal/ledger"
	"stocksim/internal/oracle"
	"stocksim/internal/quiz"
	"stocksim/internal/ranking"
	"stocksim/internal/season"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
	"stocksim/internal/watchlist"
)

// StaticPricesEnv seeds the static quote source, as SYMBOL=PRICE pairs
// separated by commas.
const StaticPricesEnv = "STOCKSIM_STATIC_PRICES"

type Backend struct {
	Store     store.Store
	Quotes    oracle.Quoter
	Ledgers   *ledger.Service
	Trades    *trade.Service
	Valuation *valuation.Service
	Rankings  *ranking.Aggregator
	Seasons   *season.Manager
	Debates   *debate.Service
	Quizzes   *quiz.Service
	Watchlist *watchlist.Service

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Open connects the configured store and quote source and builds every
// domain service on top of them. Close releases the connections.
func Open(ctx context.Context, cfg config.Backend, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{}

	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		b.Store = store.NewMemoryStore()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.pool = pool
		if err := db.Migrate(ctx, pool); err != nil {
			b.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		b.Store = store.NewPostgresStore(pool)
	}

	provider, err := b.quoteProvider(cfg, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Quotes = oracle.New(provider, cfg.Rules)

	b.Ledgers = ledger.NewService(b.Store, cfg.Rules, logger)
	b.Trades = trade.NewService(b.Ledgers, b.Store, b.Quotes, logger)
	b.Valuation = valuation.NewService(b.Ledgers, b.Store, b.Quotes, cfg.Rules, logger)
	b.Rankings = ranking.NewAggregator(b.Store, b.Valuation, b.Quotes, cfg.Rules, logger)
	b.Seasons = season.NewManager(b.Store, b.Ledgers, b.Rankings, b.Valuation, logger)
	b.Debates = debate.NewService(b.Store, b.Ledgers, logger)
	b.Quizzes = quiz.NewService(b.Store, b.Ledgers, logger)
	b.Watchlist = watchlist.NewService(b.Store, b.Quotes, logger)
	return b, nil
}

func (b *Backend) quoteProvider(cfg config.Backend, logger *slog.Logger) (oracle.Provider, error) {
	var provider oracle.Provider
	switch cfg.QuoteSource {
	case "static":
		static := oracle.NewStaticProvider()
		prices, err := ParseStaticPrices(os.Getenv(StaticPricesEnv))
		if err != nil {
			return nil, err
		}
		for symbol, price := range prices {
			static.SetPrice(symbol, price)
		}
		logger.Info("using static quote source", "symbols", len(prices))
		provider = static
	default:
		fh, err := oracle.NewFinnhubProvider(oracle.FinnhubConfig{
			BaseURL:            cfg.FinnhubURL,
			Token:              cfg.FinnhubToken,
			RateLimitPerMinute: cfg.FinnhubPerMin,
			Timeout:            cfg.QuoteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("quote provider: %w", err)
		}
		provider = fh
	}

	if cfg.RedisURL == "" {
		return provider, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	b.redis = redis.NewClient(opts)
	logger.Info("quote cache enabled", "ttl", cfg.QuoteCacheTTL.String())
	return oracle.NewCachedProvider(provider, b.redis, cfg.QuoteCacheTTL), nil
}

func (b *Backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// ParseStaticPrices reads "AAPL=190.5,005930.KS=71000". Symbols are
// normalised the way order input is.
func ParseStaticPrices(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		symbol, price, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%s: %q is not SYMBOL=PRICE", StaticPricesEnv, pair)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("%s: bad price for %s", StaticPricesEnv, symbol)
		}
		out[strings.ToUpper(strings.TrimSpace(symbol))] = p
	}
	return out, nil
}
