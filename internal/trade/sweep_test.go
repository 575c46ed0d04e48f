package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/model"
	"stocksim/internal/trade"
)

func TestLimitBuyFillsOnlyOnceTriggered(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()

	o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{
		UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderOpen, o.Status)
	assert.True(t, env.ledger(t, "u1").Account.Cash.Equal(d("10000000")), "placing a limit order has no ledger effect")

	env.prices.SetPrice("AAA.KS", d("105"))
	res, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, trade.SweepResult{Evaluated: 1}, res)
	stored, err := env.store.GetLimitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderOpen, stored.Status)

	env.prices.SetPrice("AAA.KS", d("95"))
	res, err = env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)

	stored, err = env.store.GetLimitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, stored.Status)
	assert.True(t, stored.FilledPrice.Equal(d("95")))

	l := env.ledger(t, "u1")
	// 200 * 95 = 19000, fee 47.50
	assert.True(t, l.Account.Cash.Equal(d("9980952.5")), l.Account.Cash.String())
	assert.True(t, l.Holdings["AAA.KS"].AvgBuyPrice.Equal(d("95")))

	// A later sweep does not fill it again.
	res, err = env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evaluated)
}

func TestLimitSellTriggersAtOrAbove(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.prices.SetPrice("AAA.KS", d("100"))
	_, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("200")})
	require.NoError(t, err)

	_, err = env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideSell, LimitPrice: d("120"), Quantity: d("200")})
	require.NoError(t, err)

	env.prices.SetPrice("AAA.KS", d("119.99"))
	res, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Filled)

	env.prices.SetPrice("AAA.KS", d("120"))
	res, err = env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)
	assert.Empty(t, env.ledger(t, "u1").Holdings)
}

func TestSweepIsolatesFailures(t *testing.T) {
	env := newTestEnv(t, "u1", "u2", "u3")
	ctx := context.Background()

	broken, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u1", Symbol: "DOWN.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
	require.NoError(t, err)
	// u3 has no shares, so this fill fails in the ledger.
	unfunded, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u3", Symbol: "AAA.KS", Side: model.SideSell, LimitPrice: d("50"), Quantity: d("10")})
	require.NoError(t, err)
	good, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u2", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
	require.NoError(t, err)

	env.prices.SetError("DOWN.KS", errors.New("provider down"))
	env.prices.SetPrice("AAA.KS", d("90"))

	res, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, trade.SweepResult{Evaluated: 3, Filled: 1, Failed: 2}, res)

	for id, want := range map[string]model.OrderStatus{
		broken.ID:   model.OrderOpen,
		unfunded.ID: model.OrderOpen,
		good.ID:     model.OrderFilled,
	} {
		o, err := env.store.GetLimitOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, o.Status, id)
	}
}

func TestCancelLimitOrder(t *testing.T) {
	env := newTestEnv(t, "u1", "u2")
	ctx := context.Background()

	o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
	require.NoError(t, err)

	_, err = env.trades.CancelLimitOrder(ctx, "u2", o.ID)
	require.ErrorIs(t, err, model.ErrNotFound)

	cancelled, err := env.trades.CancelLimitOrder(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, cancelled.Status)

	_, err = env.trades.CancelLimitOrder(ctx, "u1", o.ID)
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)

	// A cancelled order is never filled.
	env.prices.SetPrice("AAA.KS", d("1"))
	res, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evaluated)

	open, err := env.trades.ListOpenOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = env.trades.CancelLimitOrder(ctx, "u1", "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelAfterFillFails(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
	require.NoError(t, err)

	env.prices.SetPrice("AAA.KS", d("100"))
	_, err = env.sweeper.Run(ctx)
	require.NoError(t, err)

	_, err = env.trades.CancelLimitOrder(ctx, "u1", o.ID)
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)
}

func TestCancelRacingSweepHasOneOutcome(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t, "u1")
		ctx := context.Background()
		o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
		require.NoError(t, err)
		env.prices.SetPrice("AAA.KS", d("100"))

		var (
			wg        sync.WaitGroup
			cancelErr error
			res       trade.SweepResult
			sweepErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = env.trades.CancelLimitOrder(ctx, "u1", o.ID)
		}()
		go func() {
			defer wg.Done()
			res, sweepErr = env.sweeper.Run(ctx)
		}()
		wg.Wait()
		require.NoError(t, sweepErr)

		stored, err := env.store.GetLimitOrder(ctx, o.ID)
		require.NoError(t, err)
		l := env.ledger(t, "u1")
		if cancelErr == nil {
			assert.Equal(t, model.OrderCancelled, stored.Status)
			assert.Equal(t, 0, res.Filled)
			assert.Empty(t, l.Holdings)
			assert.True(t, l.Account.Cash.Equal(d("10000000")))
			continue
		}
		require.ErrorIs(t, cancelErr, model.ErrAlreadyTerminal)
		assert.Equal(t, model.OrderFilled, stored.Status)
		assert.Equal(t, 1, res.Filled)
		assert.True(t, l.Holdings["AAA.KS"].Quantity.Equal(d("200")))
	}
}
