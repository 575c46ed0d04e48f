package valuation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T, rules model.Rules) (*store.MemoryStore, *oracle.StaticProvider, *trade.Service, *valuation.Service) {
	t.Helper()
	ms := store.NewMemoryStore()
	prices := oracle.NewStaticProvider()
	quotes := oracle.New(prices, rules)
	ledgers := ledger.NewService(ms, rules, nil)
	_, err := ledgers.ActivateAccount(context.Background(), model.Identity{UserID: "u1", EmailVerified: true}, "u1", "school-a")
	require.NoError(t, err)
	return ms, prices, trade.NewService(ledgers, ms, quotes, nil), valuation.NewService(ledgers, ms, quotes, rules, nil)
}

func TestValuationReflectsOnlyFeeDrag(t *testing.T) {
	_, prices, trades, vals := setup(t, model.DefaultRules())
	ctx := context.Background()
	prices.SetPrice("X.KS", d("100"))

	_, err := trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "X.KS", Side: model.SideBuy, Amount: d("10000")})
	require.NoError(t, err)

	v, err := vals.ValuePortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, v.Partial)
	assert.True(t, v.TotalAsset.Equal(d("9999975")), v.TotalAsset.String())
	assert.True(t, v.ProfitLoss.Equal(d("-25")), v.ProfitLoss.String())
	assert.True(t, v.ProfitRate.Equal(d("-0.00025")), v.ProfitRate.String())

	require.Len(t, v.Holdings, 1)
	h := v.Holdings[0]
	assert.True(t, h.Resolved)
	assert.True(t, h.ProfitLoss.IsZero())
	assert.True(t, h.ProfitRate.IsZero())
}

func TestValuationPricesForeignHoldingsInHomeCurrency(t *testing.T) {
	_, prices, trades, vals := setup(t, model.DefaultRules())
	ctx := context.Background()
	prices.SetPrice("AAPL", d("10"))

	_, err := trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d("2")})
	require.NoError(t, err)
	prices.SetPrice("AAPL", d("11"))

	v, err := vals.ValuePortfolio(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, v.Holdings, 1)
	assert.True(t, v.Holdings[0].CurrentPrice.Equal(d("15895")), v.Holdings[0].CurrentPrice.String())
	assert.True(t, v.Holdings[0].ProfitLoss.Equal(d("2890")), v.Holdings[0].ProfitLoss.String())
	assert.True(t, v.Holdings[0].ProfitRate.Equal(d("10")), v.Holdings[0].ProfitRate.String())
}

func TestValuationMissingQuotePolicies(t *testing.T) {
	for _, tc := range []struct {
		policy model.MissingQuotePolicy
		total  string
	}{
		// 10,000,000 - 20,000 (AAA) - 50 fee - 30,000 (BBB) - 75 fee = 9,949,875 cash
		{model.MissingQuoteZero, "9969875"},
		{model.MissingQuoteCost, "9999875"},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			rules := model.DefaultRules()
			rules.MissingQuote = tc.policy
			_, prices, trades, vals := setup(t, rules)
			ctx := context.Background()
			prices.SetPrice("AAA.KS", d("100"))
			prices.SetPrice("BBB.KS", d("300"))
			_, err := trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d("200")})
			require.NoError(t, err)
			_, err = trades.PlaceMarketOrder(ctx, trade.MarketOrderInput{UserID: "u1", Symbol: "BBB.KS", Side: model.SideBuy, Quantity: d("100")})
			require.NoError(t, err)

			prices.SetError("BBB.KS", oracle.NewRateLimitError("BBB.KS"))
			v, err := vals.ValuePortfolio(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, v.Partial)
			assert.Equal(t, []string{"BBB.KS"}, v.Unresolved)
			assert.True(t, v.TotalAsset.Equal(d(tc.total)), v.TotalAsset.String())
			assert.False(t, v.Holdings[1].Resolved)
		})
	}
}

func TestHistoryMapsCurrentSeason(t *testing.T) {
	ms, _, _, vals := setup(t, model.DefaultRules())
	ctx := context.Background()
	require.NoError(t, ms.AppendPortfolioPoint(ctx, model.PortfolioPoint{UserID: "u1", TotalAsset: d("1"), RecordedAt: time.Now()}))

	pts, err := vals.History(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, pts, 1)
	pts, err = vals.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestValuePortfolioUnknownUser(t *testing.T) {
	_, _, _, vals := setup(t, model.DefaultRules())
	_, err := vals.ValuePortfolio(context.Background(), "ghost")
	require.ErrorIs(t, err, model.ErrNotFound)
}
