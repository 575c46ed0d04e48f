package ranking_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/ranking"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	store   *store.MemoryStore
	prices  *oracle.StaticProvider
	ledgers *ledger.Service
	trades  *trade.Service
	agg     *ranking.Aggregator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	prices := oracle.NewStaticProvider()
	rules := model.DefaultRules()
	quotes := oracle.New(prices, rules)
	ledgers := ledger.NewService(ms, rules, nil)
	vals := valuation.NewService(ledgers, ms, quotes, rules, nil)
	return &testEnv{
		store:   ms,
		prices:  prices,
		ledgers: ledgers,
		trades:  trade.NewService(ledgers, ms, quotes, nil),
		agg:     ranking.NewAggregator(ms, vals, quotes, rules, nil),
	}
}

func (e *testEnv) activate(t *testing.T, userID, group string) {
	t.Helper()
	_, err := e.ledgers.ActivateAccount(context.Background(), model.Identity{UserID: userID, EmailVerified: true}, userID, group)
	require.NoError(t, err)
}

func (e *testEnv) buy(t *testing.T, userID, symbol, qty string) {
	t.Helper()
	_, err := e.trades.PlaceMarketOrder(context.Background(), trade.MarketOrderInput{
		UserID: userID, Symbol: symbol, Side: model.SideBuy, Quantity: d(qty),
	})
	require.NoError(t, err)
}

func TestRunRanksByProfitRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activate(t, "alice", "school-a")
	env.activate(t, "bob", "school-a")
	env.activate(t, "carol", "")
	_, err := env.ledgers.EnsureAccount(ctx, "pending", "pending", "school-b")
	require.NoError(t, err)

	env.prices.SetPrice("UP.KS", d("1000"))
	env.prices.SetPrice("DOWN.KS", d("1000"))
	env.buy(t, "alice", "UP.KS", "100")
	env.buy(t, "bob", "DOWN.KS", "100")
	env.prices.SetPrice("UP.KS", d("2000"))
	env.prices.SetPrice("DOWN.KS", d("500"))

	snap, err := env.agg.Run(ctx)
	require.NoError(t, err)

	require.Len(t, snap.Personal, 3, "pending accounts are not ranked")
	assert.Equal(t, "alice", snap.Personal[0].UserID)
	assert.Equal(t, "carol", snap.Personal[1].UserID)
	assert.Equal(t, "bob", snap.Personal[2].UserID)
	for i, p := range snap.Personal {
		assert.Equal(t, i+1, p.Rank)
	}
	assert.Equal(t, ranking.DefaultGroup, snap.Personal[1].Group)

	require.Len(t, snap.Groups, 2)
	groups := map[string]model.GroupRank{}
	for _, g := range snap.Groups {
		groups[g.Group] = g
	}
	assert.Equal(t, 2, groups["school-a"].MemberCount)
	assert.Equal(t, 1, groups[ranking.DefaultGroup].MemberCount)

	stored, err := env.agg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Personal, stored.Personal)
}

func TestRunIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, u := range []string{"u3", "u1", "u2"} {
		env.activate(t, u, "g")
	}

	first, err := env.agg.Run(ctx)
	require.NoError(t, err)
	second, err := env.agg.Run(ctx)
	require.NoError(t, err)

	ids := func(s *model.RankingSnapshot) []string {
		var out []string
		for _, p := range s.Personal {
			out = append(out, p.UserID)
		}
		return out
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids(first), "ties break by user id")
	assert.Equal(t, ids(first), ids(second))
}

func TestRunRecordsHistoryAndQuests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activate(t, "u1", "g")

	for _, s := range []string{"A.KS", "B.KS", "C.KS"} {
		env.prices.SetPrice(s, d("1000"))
		env.buy(t, "u1", s, "100")
	}
	// A.KS x12 lifts the whole portfolio past +10%.
	env.prices.SetPrice("A.KS", d("12000"))

	_, err := env.agg.Run(ctx)
	require.NoError(t, err)

	q, err := env.store.GetQuestProgress(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, q.ProfitRateAchieved)
	assert.Equal(t, model.QuestCompleted, q.BeginnerStatus)
	assert.Equal(t, model.QuestInProgress, q.IntermediateStatus)

	points, err := env.store.ListPortfolioPoints(ctx, "u1", model.UnstampedSeason)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].ProfitRate.GreaterThan(d("10")))
}

func TestSnapshotBeforeFirstRun(t *testing.T) {
	env := newTestEnv(t)
	snap, err := env.agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Personal)
	assert.Empty(t, snap.Groups)
}

func TestGroupsAverageAndCap(t *testing.T) {
	entries := []ranking.Entry{
		{UserID: "a", Group: "x", ProfitRate: d("10")},
		{UserID: "b", Group: "x", ProfitRate: d("-4")},
		{UserID: "c", Group: "y", ProfitRate: d("5")},
		{UserID: "d", Group: "z", ProfitRate: d("1")},
	}
	groups := ranking.Groups(entries, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, "y", groups[0].Group)
	assert.Equal(t, "x", groups[1].Group)
	assert.True(t, groups[1].AvgProfitRate.Equal(d("3")))
	assert.Equal(t, 2, groups[1].MemberCount)

	assert.Len(t, ranking.Personal(entries, 3), 3)
}
