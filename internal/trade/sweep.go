package trade

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
)

type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Filled    int `json:"filled"`
	Failed    int `json:"failed"`
}

// Sweeper evaluates every open limit order against a fresh quote. Orders are
// independent: a failing quote or ledger write is logged and the order
// stays open for the next run.
type Sweeper struct {
	trades      *Service
	parallelism int
	log         *slog.Logger
}

func NewSweeper(trades *Service, parallelism int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Sweeper{trades: trades, parallelism: parallelism, log: logger}
}

func (sw *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	orders, err := sw.trades.store.ListLimitOrders(ctx, "", model.OrderOpen)
	if err != nil {
		return SweepResult{}, err
	}

	quotes := oracle.NewMemo(sw.trades.quotes)
	var filled, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(sw.parallelism)
	for _, o := range orders {
		g.Go(func() error {
			ok, err := sw.trades.tryFill(ctx, quotes, o)
			if err != nil {
				failed.Add(1)
				sw.log.Warn("limit order not filled", "order_id", o.ID, "user_id", o.UserID, "symbol", o.Symbol, "err", err)
				return nil
			}
			if ok {
				filled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Evaluated: len(orders), Filled: int(filled.Load()), Failed: int(failed.Load())}
	sw.log.Info("limit order sweep complete",
		"evaluated", res.Evaluated,
		"filled", res.Filled,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, ctx.Err()
}

// tryFill fills o at the observed price when its trigger holds. Losing a
// race against a cancel is not an error.
func (s *Service) tryFill(ctx context.Context, quotes oracle.Quoter, o model.LimitOrder) (bool, error) {
	q, err := quotes.GetQuote(ctx, o.Symbol)
	if err != nil {
		return false, err
	}
	if !o.Triggered(q.Price) {
		return false, nil
	}
	notional := model.Notional(q.Price, o.Quantity)
	_, _, err = s.execute(ctx, fill{
		userID:   o.UserID,
		symbol:   o.Symbol,
		side:     o.Side,
		kind:     model.TxLimit,
		quantity: o.Quantity,
		price:    q.Price,
		notional: notional,
		fee:      model.Fee(notional, s.rules.FeeRate),
		order:    &o,
	})
	if errors.Is(err, store.ErrOrderNotOpen) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.LimitFills.Inc()
	metrics.TradesTotal.WithLabelValues(string(o.Side), string(model.TxLimit)).Inc()
	return true, nil
}
