package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
	"stocksim/internal/trade"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	store   *store.MemoryStore
	prices  *oracle.StaticProvider
	ledgers *ledger.Service
	trades  *trade.Service
	sweeper *trade.Sweeper
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	prices := oracle.NewStaticProvider()
	rules := model.DefaultRules()
	ledgers := ledger.NewService(ms, rules, nil)
	trades := trade.NewService(ledgers, ms, oracle.New(prices, rules), nil)
	for _, u := range users {
		_, err := ledgers.ActivateAccount(context.Background(), model.Identity{UserID: u, EmailVerified: true}, u, "school-a")
		require.NoError(t, err)
	}
	return &testEnv{store: ms, prices: prices, ledgers: ledgers, trades: trades, sweeper: trade.NewSweeper(trades, 4, nil)}
}

func (e *testEnv) ledger(t *testing.T, userID string) *model.Ledger {
	t.Helper()
	l, err := e.ledgers.Get(context.Background(), userID)
	require.NoError(t, err)
	return l
}

func TestBuyByAmountChargesFeeOnTop(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.prices.SetPrice("AAA.KS", d("100"))

	res, err := env.trades.PlaceMarketOrder(context.Background(), trade.MarketOrderInput{
		UserID: "u1", Symbol: "aaa.ks", Side: model.SideBuy, Amount: d("10000"),
	})
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(d("100")), res.Quantity.String())
	assert.True(t, res.Fee.Equal(d("25")), res.Fee.String())
	assert.True(t, res.Cash.Equal(d("9989975")), res.Cash.String())

	l := env.ledger(t, "u1")
	assert.True(t, l.Holdings["AAA.KS"].Quantity.Equal(d("100")))
	assert.True(t, l.Holdings["AAA.KS"].AvgBuyPrice.Equal(d("100")))
}

func TestRoundTripCostsOnlyFees(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.prices.SetPrice("AAA.KS", d("1000"))
	ctx := context.Background()

	buy, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("50")})
	require.NoError(t, err)
	sell, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideSell, Quantity: d("50")})
	require.NoError(t, err)

	l := env.ledger(t, "u1")
	want := d("10000000").Sub(buy.Fee).Sub(sell.Fee)
	assert.True(t, l.Account.Cash.Equal(want), "cash %s want %s", l.Account.Cash, want)
	assert.Empty(t, l.Holdings)

	txs, err := env.store.ListTransactions(ctx, store.TxFilter{UserID: "u1", SeasonID: store.AllSeasons})
	require.NoError(t, err)
	assert.Len(t, txs, 4, "each trade writes a season and an all-time record")
}

func TestWeightedAverageAcrossBuys(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()

	env.prices.SetPrice("AAA.KS", d("100"))
	_, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("100")})
	require.NoError(t, err)
	env.prices.SetPrice("AAA.KS", d("400"))
	_, err = env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("300")})
	require.NoError(t, err)

	h := env.ledger(t, "u1").Holdings["AAA.KS"]
	assert.True(t, h.Quantity.Equal(d("400")))
	// (100*100 + 300*400) / 400
	assert.True(t, h.AvgBuyPrice.Equal(d("325")), h.AvgBuyPrice.String())
}

func TestMarketOrderRejections(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.prices.SetPrice("AAA.KS", d("100"))
	env.prices.SetError("DOWN.KS", oracle.NewRateLimitError("DOWN.KS"))
	ctx := context.Background()

	tests := []struct {
		name string
		in   trade.MarketOrderInput
		want error
	}{
		{"amount below minimum", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideBuy, Amount: d("9999")}, model.ErrBelowMinimumOrder},
		{"quantity below minimum", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("1")}, model.ErrBelowMinimumOrder},
		{"both quantity and amount", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("1"), Amount: d("20000")}, model.ErrInvalidArgument},
		{"neither", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideBuy}, model.ErrInvalidArgument},
		{"bad side", trade.MarketOrderInput{Symbol: "AAA.KS", Side: "hold", Quantity: d("200")}, model.ErrInvalidArgument},
		{"quote unavailable", trade.MarketOrderInput{Symbol: "DOWN.KS", Side: model.SideBuy, Quantity: d("200")}, model.ErrQuoteUnavailable},
		{"insufficient funds", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("100000")}, model.ErrInsufficientFunds},
		{"insufficient holdings", trade.MarketOrderInput{Symbol: "AAA.KS", Side: model.SideSell, Quantity: d("200")}, model.ErrInsufficientHoldings},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.UserID = "u1"
			_, err := env.trades.PlaceMarketOrder(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}

	l := env.ledger(t, "u1")
	assert.True(t, l.Account.Cash.Equal(d("10000000")), "rejected orders must not touch cash")
	assert.Empty(t, l.Holdings)
	txs, err := env.store.ListTransactions(ctx, store.TxFilter{UserID: "u1", SeasonID: store.AllSeasons})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSellingWholeSmallPositionIgnoresMinimum(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.prices.SetPrice("AAA.KS", d("100"))
	_, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("150")})
	require.NoError(t, err)

	env.prices.SetPrice("AAA.KS", d("10"))
	_, err = env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideSell, Quantity: d("100")})
	require.ErrorIs(t, err, model.ErrBelowMinimumOrder)
	_, err = env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideSell, Quantity: d("150")})
	require.NoError(t, err)
	assert.Empty(t, env.ledger(t, "u1").Holdings)
}

func TestInactiveAccountCannotTrade(t *testing.T) {
	env := newTestEnv(t)
	env.prices.SetPrice("AAA.KS", d("100"))
	_, err := env.ledgers.EnsureAccount(context.Background(), "pending", "p", "")
	require.NoError(t, err)

	_, err = env.trades.PlaceMarketOrder(context.Background(), trade.MarketOrderInput{UserID: "pending", Symbol: "AAA.KS", Side: model.SideBuy, Amount: d("10000")})
	require.ErrorIs(t, err, model.ErrAccountInactive)
	_, err = env.trades.PlaceLimitOrder(context.Background(), trade.LimitOrderInput{UserID: "pending", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("100"), Quantity: d("200")})
	require.ErrorIs(t, err, model.ErrAccountInactive)
}

func TestTransactionHistoryBySeason(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.prices.SetPrice("AAA.KS", d("100"))
	ctx := context.Background()
	_, err := env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Amount: d("10000")})
	require.NoError(t, err)

	current, err := env.trades.TransactionHistory(ctx, "u1", 0, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, model.ScopeSeason, current[0].Scope)

	byID, err := env.trades.TransactionHistory(ctx, "u1", 1, false)
	require.NoError(t, err)
	assert.Len(t, byID, 1)

	all, err := env.trades.TransactionHistory(ctx, "u1", 0, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.ScopeAllTime, all[0].Scope)
	assert.Equal(t, current[0].TradeID, all[0].TradeID)

	_, err = env.trades.TransactionHistory(ctx, "u1", 7, false)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestConcurrentMarketBuysCannotOverdraw(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.prices.SetPrice("AAA.KS", d("100"))
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{
				UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Amount: d("6000000"),
			})
		}()
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	l := env.ledger(t, "u1")
	// 6,000,000 + 0.25% fee
	assert.True(t, l.Account.Cash.Equal(d("3985000")), l.Account.Cash.String())
	assert.True(t, l.Holdings["AAA.KS"].Quantity.Equal(d("60000")))
}
