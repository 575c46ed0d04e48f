package season_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/ranking"
	"stocksim/internal/season"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakyStore fails selected calls once, standing in for a crash mid-run.
type flakyStore struct {
	*store.MemoryStore
	failStampFor string
	failShiftAt  int64
	stampFailed  atomic.Bool
	shiftFailed  atomic.Bool

	// afterStamp, when set, runs once per user right after the first stamp.
	afterStamp func(userID string)
	stamped    sync.Map
}

var errInjected = errors.New("injected failure")

func (s *flakyStore) StampSeason(ctx context.Context, userID string, seasonID int64) error {
	if userID == s.failStampFor && s.stampFailed.CompareAndSwap(false, true) {
		return errInjected
	}
	if err := s.MemoryStore.StampSeason(ctx, userID, seasonID); err != nil {
		return err
	}
	if _, seen := s.stamped.LoadOrStore(userID, true); !seen && s.afterStamp != nil {
		s.afterStamp(userID)
	}
	return nil
}

func (s *flakyStore) ShiftSeason(ctx context.Context, from, to int64) error {
	if from == s.failShiftAt && s.shiftFailed.CompareAndSwap(false, true) {
		return errInjected
	}
	return s.MemoryStore.ShiftSeason(ctx, from, to)
}

type testEnv struct {
	store   *flakyStore
	prices  *oracle.StaticProvider
	ledgers *ledger.Service
	trades  *trade.Service
	seasons *season.Manager
	ranker  *ranking.Aggregator
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	prices := oracle.NewStaticProvider()
	rules := model.DefaultRules()
	quotes := oracle.New(prices, rules)
	ledgers := ledger.NewService(fs, rules, nil)
	vals := valuation.NewService(ledgers, fs, quotes, rules, nil)
	agg := ranking.NewAggregator(fs, vals, quotes, rules, nil)
	for _, u := range users {
		_, err := ledgers.ActivateAccount(context.Background(), model.Identity{UserID: u, EmailVerified: true}, u, "g")
		require.NoError(t, err)
	}
	prices.SetPrice("AAA.KS", d("1000"))
	return &testEnv{
		store:   fs,
		prices:  prices,
		ledgers: ledgers,
		trades:  trade.NewService(ledgers, fs, quotes, nil),
		seasons: season.NewManager(fs, ledgers, agg, vals, nil),
		ranker:  agg,
	}
}

func (e *testEnv) buy(t *testing.T, userID, qty string) {
	t.Helper()
	_, err := e.trades.PlaceMarketOrder(context.Background(), trade.MarketOrderInput{
		UserID: userID, Symbol: "AAA.KS", Side: model.SideBuy, Quantity: d(qty),
	})
	require.NoError(t, err)
}

// playSeason trades qty for the user and closes the season.
func (e *testEnv) playSeason(t *testing.T, userID, qty string) int64 {
	t.Helper()
	e.buy(t, userID, qty)
	id, err := e.seasons.EndSeason(context.Background())
	require.NoError(t, err)
	return id
}

func (e *testEnv) txSeasons(t *testing.T) map[int64]int {
	t.Helper()
	txs, err := e.store.ListTransactions(context.Background(), store.TxFilter{SeasonID: store.AllSeasons, Scope: model.ScopeSeason})
	require.NoError(t, err)
	out := map[int64]int{}
	for _, tx := range txs {
		out[tx.SeasonID]++
	}
	return out
}

func TestEndSeasonArchivesAndResets(t *testing.T) {
	env := newTestEnv(t, "u1", "u2")
	ctx := context.Background()
	env.buy(t, "u1", "100")
	env.prices.SetPrice("AAA.KS", d("2000"))
	_, err := env.ranker.Run(ctx)
	require.NoError(t, err)

	closed, err := env.seasons.EndSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	cur, err := env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.CurrentID)

	a, err := env.seasons.Archive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveClosed, a.Status)
	require.Len(t, a.TopRankers, 2)
	assert.Equal(t, "u1", a.TopRankers[0].UserID)
	rec := a.Records["u1"]
	assert.True(t, rec.FinalAsset.Equal(d("10099750")), rec.FinalAsset.String())
	require.Len(t, rec.FinalHoldings, 1)

	for _, u := range []string{"u1", "u2"} {
		l, err := env.ledgers.Get(ctx, u)
		require.NoError(t, err)
		assert.True(t, l.Account.Cash.Equal(d("10000000")), u)
		assert.Empty(t, l.Holdings)
	}

	assert.Equal(t, map[int64]int{1: 1}, env.txSeasons(t))
	points, err := env.store.ListPortfolioPoints(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	snap, err := env.ranker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Personal)

	past, err := env.seasons.PortfolioForSeason(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, past.TotalAsset.Equal(d("10099750")))
	assert.True(t, past.ProfitLoss.Equal(d("99750")))
}

func TestEndSeasonResumesAfterFailure(t *testing.T) {
	env := newTestEnv(t, "u1", "u2")
	ctx := context.Background()
	env.buy(t, "u1", "100")
	env.buy(t, "u2", "50")
	env.store.failStampFor = "u2"

	_, err := env.seasons.EndSeason(ctx)
	require.Error(t, err)

	cur, err := env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.CurrentID, "pointer only moves once every account is reset")
	a, err := env.seasons.Archive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveClosing, a.Status)

	closed, err := env.seasons.EndSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	a, err = env.seasons.Archive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveClosed, a.Status)
	require.Len(t, a.Records["u2"].FinalHoldings, 1, "archive keeps the state captured before the first reset")

	l, err := env.ledgers.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, l.Holdings)
	assert.Equal(t, map[int64]int{1: 2}, env.txSeasons(t))
}

func TestEndSeasonCancelsOpenOrders(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.buy(t, "u1", "100")
	o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{
		UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("500"), Quantity: d("100"),
	})
	require.NoError(t, err)

	_, err = env.seasons.EndSeason(ctx)
	require.NoError(t, err)

	got, err := env.store.GetLimitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
}

func TestEndSeasonCancelsOrdersOfUntradedUser(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	// u1 never traded, so the ledger is already in its starting state.
	o, err := env.trades.PlaceLimitOrder(ctx, trade.LimitOrderInput{
		UserID: "u1", Symbol: "AAA.KS", Side: model.SideBuy, LimitPrice: d("500"), Quantity: d("100"),
	})
	require.NoError(t, err)

	_, err = env.seasons.EndSeason(ctx)
	require.NoError(t, err)

	got, err := env.store.GetLimitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)

	env.prices.SetPrice("AAA.KS", d("400"))
	res, err := trade.NewSweeper(env.trades, 1, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Filled)
	l, err := env.ledgers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, l.Holdings)
}

func TestEndSeasonStampsTradeCommittedDuringReset(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.buy(t, "u1", "100")
	// The trade lands after the stamp and before the reset write.
	env.store.afterStamp = func(userID string) {
		env.buy(t, userID, "10")
	}

	_, err := env.seasons.EndSeason(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[int64]int{1: 2}, env.txSeasons(t), "no transaction is left for the new season")
	l, err := env.ledgers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, l.IsReset(d("10000000")), l.Account.Cash.String())
}

func TestDeleteSeasonRenumbers(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.playSeason(t, "u1", "10")
	env.playSeason(t, "u1", "20")
	env.playSeason(t, "u1", "30")

	require.NoError(t, env.seasons.DeleteSeason(ctx, 2))

	cur, err := env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.CurrentID)
	assert.Zero(t, cur.DeletingID)

	archives, err := env.seasons.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, int64(2), archives[1].SeasonID)
	assert.True(t, archives[1].Records["u1"].FinalHoldings[0].Quantity.Equal(d("30")), "old season 3 is now season 2")
	assert.Contains(t, archives[1].Name, "Season 2")

	assert.Equal(t, map[int64]int{1: 1, 2: 1}, env.txSeasons(t))
}

func TestDeleteSeasonResumesWithoutDoubleShift(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.playSeason(t, "u1", "10")
	env.playSeason(t, "u1", "20")
	env.playSeason(t, "u1", "30")
	env.store.failShiftAt = 3

	require.ErrorIs(t, env.seasons.DeleteSeason(ctx, 1), errInjected)
	cur, err := env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.DeletingID)
	assert.Equal(t, int64(2), cur.RenumberedThrough)

	// Other admin operations wait for the deletion to finish.
	assert.ErrorIs(t, env.seasons.DeleteSeason(ctx, 2), model.ErrSeasonBusy)
	_, err = env.seasons.EndSeason(ctx)
	assert.ErrorIs(t, err, model.ErrSeasonBusy)

	require.NoError(t, env.seasons.DeleteSeason(ctx, 1))

	archives, err := env.seasons.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.True(t, archives[0].Records["u1"].FinalHoldings[0].Quantity.Equal(d("20")))
	assert.True(t, archives[1].Records["u1"].FinalHoldings[0].Quantity.Equal(d("30")))
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, env.txSeasons(t))

	cur, err = env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.CurrentID)
}

func TestDeleteOnlySeasonResetsPointer(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.playSeason(t, "u1", "10")

	require.NoError(t, env.seasons.DeleteSeason(ctx, 1))
	cur, err := env.seasons.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.CurrentID)
	assert.Empty(t, env.txSeasons(t))
}

func TestDeleteSeasonRejectsNonPastSeasons(t *testing.T) {
	env := newTestEnv(t, "u1")
	ctx := context.Background()
	env.playSeason(t, "u1", "10")

	for _, id := range []int64{0, 2, 3} {
		assert.ErrorIs(t, env.seasons.DeleteSeason(ctx, id), model.ErrInvalidSeason, "season %d", id)
	}
	_, err := env.seasons.Archive(ctx, 9)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
