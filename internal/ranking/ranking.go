// Package ranking rebuilds the personal and group leaderboards.
package ranking

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
	"stocksim/internal/valuation"
)

// DefaultGroup collects accounts that never chose a group.
const DefaultGroup = "other"

// Entry is one valued account.
type Entry struct {
	UserID     string
	Nickname   string
	Group      string
	TotalAsset decimal.Decimal
	ProfitRate decimal.Decimal
	Cash       decimal.Decimal
	Holdings   []model.Holding
}

type Aggregator struct {
	store       store.Store
	valuer      *valuation.Service
	quotes      oracle.Quoter
	rules       model.Rules
	parallelism int
	log         *slog.Logger
}

func NewAggregator(st store.Store, valuer *valuation.Service, quotes oracle.Quoter, rules model.Rules, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: st, valuer: valuer, quotes: quotes, rules: rules, parallelism: 8, log: logger}
}

func (a *Aggregator) SetParallelism(n int) {
	if n > 0 {
		a.parallelism = n
	}
}

// Run values every active account and replaces the snapshot. A failed run
// leaves the previous snapshot in place.
func (a *Aggregator) Run(ctx context.Context) (*model.RankingSnapshot, error) {
	start := time.Now()
	defer func() { metrics.RankingDuration.Observe(time.Since(start).Seconds()) }()

	ids, err := a.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	entries, failed := a.valueAll(ctx, ids, true)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &model.RankingSnapshot{
		Personal:  Personal(entries, a.rules.RankingListSize),
		Groups:    Groups(entries, a.rules.RankingListSize),
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.store.PutRankingSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.AccountsRanked.Set(float64(len(entries)))
	a.log.Info("ranking aggregation complete",
		"accounts", len(ids),
		"ranked", len(entries),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

// ValueAll values the given accounts without side effects. Season close uses
// it to build the final standings.
func (a *Aggregator) ValueAll(ctx context.Context, ids []string) []Entry {
	entries, _ := a.valueAll(ctx, ids, false)
	return entries
}

func (a *Aggregator) valueAll(ctx context.Context, ids []string, record bool) ([]Entry, int) {
	quotes := oracle.NewMemo(a.quotes)
	var (
		mu      sync.Mutex
		entries = make([]Entry, 0, len(ids))
		failed  int
	)
	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			e, ok, err := a.valueOne(ctx, quotes, id, record)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				a.log.Warn("account not ranked", "user_id", id, "err", err)
				return nil
			}
			if ok {
				entries = append(entries, e)
			}
			return nil
		})
	}
	_ = g.Wait()
	return entries, failed
}

func (a *Aggregator) valueOne(ctx context.Context, quotes oracle.Quoter, userID string, record bool) (Entry, bool, error) {
	l, err := a.store.GetLedger(ctx, userID)
	if err != nil {
		return Entry{}, false, err
	}
	if l.Account.Status != model.AccountActive {
		return Entry{}, false, nil
	}
	v := a.valuer.ValueLedger(ctx, l, quotes)
	if v.Partial {
		a.log.Warn("partial valuation", "user_id", userID, "unresolved", v.UnresolvedSummary())
	}
	e := Entry{
		UserID:     userID,
		Nickname:   l.Account.Nickname,
		Group:      l.Account.Group,
		TotalAsset: v.TotalAsset,
		ProfitRate: v.ProfitRate,
		Cash:       l.Account.Cash,
		Holdings:   sortedHoldings(l),
	}
	if !record {
		return e, true, nil
	}

	// An untouched account has nothing to chart yet.
	if l.IsReset(a.rules.InitialCapital) {
		return e, true, nil
	}
	if err := a.store.AppendPortfolioPoint(ctx, model.PortfolioPoint{
		UserID:     userID,
		TotalAsset: v.TotalAsset,
		ProfitRate: v.ProfitRate,
		SeasonID:   model.UnstampedSeason,
		RecordedAt: v.ValuedAt,
	}); err != nil {
		a.log.Warn("portfolio point not recorded", "user_id", userID, "err", err)
	}
	if err := a.observeQuests(ctx, userID, v.ProfitRate, len(l.Holdings)); err != nil {
		a.log.Warn("quest progress not updated", "user_id", userID, "err", err)
	}
	return e, true, nil
}

var errQuestUnchanged = errors.New("quest unchanged")

// observeQuests reads first and writes only when a flag actually flips.
func (a *Aggregator) observeQuests(ctx context.Context, userID string, rate decimal.Decimal, holdings int) error {
	rules := a.rules.Quest()
	apply := func(q *model.QuestProgress) bool {
		changed := q.ObserveProfitRate(rate, rules)
		return q.ObserveDiversity(holdings, rules) || changed
	}
	q, err := a.store.GetQuestProgress(ctx, userID)
	if err != nil {
		return err
	}
	if !apply(&q) {
		return nil
	}
	err = a.store.UpdateQuestProgress(ctx, userID, func(q *model.QuestProgress) error {
		if !apply(q) {
			return errQuestUnchanged
		}
		return nil
	})
	if errors.Is(err, errQuestUnchanged) {
		return nil
	}
	return err
}

// Snapshot returns the latest published snapshot, or an empty one before the
// first run.
func (a *Aggregator) Snapshot(ctx context.Context) (*model.RankingSnapshot, error) {
	snap, err := a.store.GetRankingSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &model.RankingSnapshot{Personal: []model.PersonalRank{}, Groups: []model.GroupRank{}}, nil
	}
	return snap, err
}

// Personal orders entries by profit rate, highest first, breaking ties by
// user id so equal inputs always rank the same way.
func Personal(entries []Entry, limit int) []model.PersonalRank {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].ProfitRate.Cmp(sorted[j].ProfitRate); c != 0 {
			return c > 0
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]model.PersonalRank, len(sorted))
	for i, e := range sorted {
		out[i] = model.PersonalRank{
			Rank:       i + 1,
			UserID:     e.UserID,
			Nickname:   e.Nickname,
			Group:      groupName(e.Group),
			TotalAsset: e.TotalAsset,
			ProfitRate: e.ProfitRate,
		}
	}
	return out
}

// Groups averages profit rate per group.
func Groups(entries []Entry, limit int) []model.GroupRank {
	type acc struct {
		sum   decimal.Decimal
		count int
	}
	stats := make(map[string]*acc)
	for _, e := range entries {
		name := groupName(e.Group)
		s, ok := stats[name]
		if !ok {
			s = &acc{}
			stats[name] = s
		}
		s.sum = s.sum.Add(e.ProfitRate)
		s.count++
	}

	out := make([]model.GroupRank, 0, len(stats))
	for name, s := range stats {
		out = append(out, model.GroupRank{
			Group:         name,
			AvgProfitRate: s.sum.DivRound(decimal.NewFromInt(int64(s.count)), 6),
			MemberCount:   s.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].AvgProfitRate.Cmp(out[j].AvgProfitRate); c != 0 {
			return c > 0
		}
		return out[i].Group < out[j].Group
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func sortedHoldings(l *model.Ledger) []model.Holding {
	out := make([]model.Holding, 0, len(l.Holdings))
	for _, h := range l.Holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func groupName(g string) string {
	if g == "" {
		return DefaultGroup
	}
	return g
}
