// Package season closes, archives and deletes competition seasons. Every
// step is written so that re-running after a crash resumes instead of
// repeating work.
package season

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stocksim/internal/ledger"
	"stocksim/internal/model"
	"stocksim/internal/ranking"
	"stocksim/internal/store"
	"stocksim/internal/valuation"
)

type Manager struct {
	store       store.Store
	ledgers     *ledger.Service
	ranker      *ranking.Aggregator
	valuer      *valuation.Service
	rules       model.Rules
	parallelism int
	log         *slog.Logger
}

func NewManager(st store.Store, ledgers *ledger.Service, ranker *ranking.Aggregator, valuer *valuation.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       st,
		ledgers:     ledgers,
		ranker:      ranker,
		valuer:      valuer,
		rules:       ledgers.Rules(),
		parallelism: 8,
		log:         logger,
	}
}

func (m *Manager) Current(ctx context.Context) (model.Season, error) {
	return m.store.GetSeason(ctx)
}

// EndSeason archives the running season, resets every ledger and advances
// the pointer. It returns the id of the season it closed.
func (m *Manager) EndSeason(ctx context.Context) (int64, error) {
	cur, err := m.store.GetSeason(ctx)
	if err != nil {
		return 0, err
	}
	if cur.DeletingID != 0 {
		return 0, fmt.Errorf("%w: deletion of season %d in progress", model.ErrSeasonBusy, cur.DeletingID)
	}
	closing := cur.CurrentID
	log := m.log.With("season_id", closing)

	archive, err := m.store.GetArchive(ctx, closing)
	switch {
	case errors.Is(err, store.ErrNotFound):
		archive, err = m.openArchive(ctx, cur)
		if err != nil {
			return 0, err
		}
		log.Info("season archive written", "records", len(archive.Records))
	case err != nil:
		return 0, err
	default:
		log.Info("resuming season close", "status", archive.Status)
	}

	if archive.Status == model.ArchiveClosing {
		if err := m.resetAll(ctx, closing); err != nil {
			return 0, err
		}
		archive.Status = model.ArchiveClosed
		if err := m.store.PutArchive(ctx, archive); err != nil {
			return 0, err
		}
	}

	if err := m.store.ClearRankingSnapshot(ctx); err != nil {
		return 0, err
	}
	next := model.Season{CurrentID: closing + 1, StartDate: time.Now().UTC()}
	if err := m.store.PutSeason(ctx, next); err != nil {
		return 0, err
	}
	log.Info("season closed", "next_season_id", next.CurrentID)
	return closing, nil
}

// openArchive values every active account and writes the archive in the
// closing state. Ledgers are still untouched at this point.
func (m *Manager) openArchive(ctx context.Context, cur model.Season) (*model.SeasonArchive, error) {
	ids, err := m.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	entries := m.ranker.ValueAll(ctx, ids)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	closedAt := time.Now().UTC()
	archive := &model.SeasonArchive{
		SeasonID:   cur.CurrentID,
		Name:       model.SeasonName(cur.CurrentID, closedAt),
		Status:     model.ArchiveClosing,
		StartDate:  cur.StartDate,
		ClosedAt:   closedAt,
		TopRankers: ranking.Personal(entries, m.rules.HallOfFameSize),
		Records:    make(map[string]model.ArchiveRecord, len(entries)),
	}
	for _, e := range entries {
		archive.Records[e.UserID] = model.ArchiveRecord{
			UserID:        e.UserID,
			Nickname:      e.Nickname,
			Group:         e.Group,
			FinalAsset:    e.TotalAsset,
			ProfitRate:    e.ProfitRate,
			FinalCash:     e.Cash,
			FinalHoldings: e.Holdings,
		}
	}
	if err := m.store.PutArchive(ctx, archive); err != nil {
		return nil, err
	}
	return archive, nil
}

func (m *Manager) resetAll(ctx context.Context, seasonID int64) error {
	ids, err := m.store.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	var (
		failed atomic.Int64
		done   atomic.Int64
	)
	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			didReset, err := m.resetOne(ctx, id, seasonID)
			if err != nil {
				failed.Add(1)
				m.log.Error("season reset failed", "season_id", seasonID, "user_id", id, "err", err)
				return nil
			}
			if didReset {
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.log.Info("season reset pass finished",
		"season_id", seasonID,
		"accounts", len(ids),
		"reset", done.Load(),
		"failed", failed.Load(),
	)
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("season %d: %d accounts not reset, run again to resume", seasonID, n)
	}
	return ctx.Err()
}

// resetOne cancels the user's resting orders, stamps their records and
// restores the starting balance. Stamping runs inside the reset's attempt, so
// a trade committing in between is stamped by the retry instead of leaking
// into the next season. A ledger already in its starting state was handled
// by an earlier pass.
func (m *Manager) resetOne(ctx context.Context, userID string, seasonID int64) (bool, error) {
	if err := m.cancelOpenOrders(ctx, userID); err != nil {
		return false, err
	}
	return m.ledgers.ResetForNewSeason(ctx, userID, func(ctx context.Context) error {
		return m.store.StampSeason(ctx, userID, seasonID)
	})
}

func (m *Manager) cancelOpenOrders(ctx context.Context, userID string) error {
	open, err := m.store.ListLimitOrders(ctx, userID, model.OrderOpen)
	if err != nil {
		return err
	}
	for _, o := range open {
		if _, err := m.store.CancelLimitOrder(ctx, o.ID); err != nil && !errors.Is(err, store.ErrOrderNotOpen) {
			return err
		}
	}
	return nil
}

// DeleteSeason removes a past season and shifts every later season down by
// one. Progress is kept on the season pointer, so an interrupted call is
// finished by calling it again with the same target.
func (m *Manager) DeleteSeason(ctx context.Context, target int64) error {
	cur, err := m.store.GetSeason(ctx)
	if err != nil {
		return err
	}
	switch {
	case cur.DeletingID != 0 && cur.DeletingID != target:
		return fmt.Errorf("%w: deletion of season %d in progress", model.ErrSeasonBusy, cur.DeletingID)
	case cur.DeletingID == 0 && (target < 1 || target >= cur.CurrentID):
		return fmt.Errorf("%w: season %d is not a past season (current %d)", model.ErrInvalidSeason, target, cur.CurrentID)
	}
	if a, err := m.store.GetArchive(ctx, cur.CurrentID); err == nil && a.Status == model.ArchiveClosing {
		return fmt.Errorf("%w: season %d is closing", model.ErrSeasonBusy, cur.CurrentID)
	}
	log := m.log.With("target_season_id", target)

	if cur.DeletingID == 0 {
		cur.DeletingID = target
		cur.RenumberedThrough = target
		if err := m.store.PutSeason(ctx, cur); err != nil {
			return err
		}
		log.Info("season deletion started", "current_season_id", cur.CurrentID)
	} else {
		log.Info("resuming season deletion", "renumbered_through", cur.RenumberedThrough)
	}

	if cur.RenumberedThrough == target {
		if err := m.store.DeleteSeasonData(ctx, target); err != nil {
			return err
		}
		log.Info("season data deleted")
	}

	for k := cur.RenumberedThrough + 1; k < cur.CurrentID; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.store.ShiftSeason(ctx, k, k-1); err != nil {
			return fmt.Errorf("renumber season %d: %w", k, err)
		}
		log.Info("season renumbered", "from", k, "to", k-1)
	}

	archives, err := m.store.ListArchives(ctx)
	if err != nil {
		return err
	}
	done, err := m.store.GetSeason(ctx)
	if err != nil {
		return err
	}
	done.CurrentID--
	if len(archives) == 0 {
		done.CurrentID = 1
	}
	done.DeletingID = 0
	done.RenumberedThrough = 0
	if err := m.store.PutSeason(ctx, done); err != nil {
		return err
	}
	log.Info("season deletion complete", "current_season_id", done.CurrentID)
	return nil
}

func (m *Manager) Archive(ctx context.Context, id int64) (*model.SeasonArchive, error) {
	a, err := m.store.GetArchive(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: season %d has no archive", model.ErrNotFound, id)
	}
	return a, err
}

func (m *Manager) ListArchives(ctx context.Context) ([]model.SeasonArchive, error) {
	return m.store.ListArchives(ctx)
}

// PortfolioForSeason values the running season live and reads past seasons
// from their archive.
func (m *Manager) PortfolioForSeason(ctx context.Context, userID string, id int64) (valuation.Valuation, error) {
	cur, err := m.store.GetSeason(ctx)
	if err != nil {
		return valuation.Valuation{}, err
	}
	if id == 0 || id == cur.CurrentID {
		return m.valuer.ValuePortfolio(ctx, userID)
	}
	if id < 0 || id > cur.CurrentID {
		return valuation.Valuation{}, fmt.Errorf("%w: season %d", model.ErrNotFound, id)
	}
	a, err := m.Archive(ctx, id)
	if err != nil {
		return valuation.Valuation{}, err
	}
	rec, ok := a.Records[userID]
	if !ok {
		return valuation.Valuation{}, fmt.Errorf("%w: no record for %s in season %d", model.ErrNotFound, userID, id)
	}

	v := valuation.Valuation{
		UserID:     userID,
		Cash:       rec.FinalCash,
		Holdings:   make([]valuation.HoldingValue, 0, len(rec.FinalHoldings)),
		TotalAsset: rec.FinalAsset,
		ProfitLoss: rec.FinalAsset.Sub(m.rules.InitialCapital),
		ProfitRate: rec.ProfitRate,
		ValuedAt:   a.ClosedAt,
	}
	for _, h := range rec.FinalHoldings {
		v.Holdings = append(v.Holdings, valuation.HoldingValue{
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AvgBuyPrice: h.AvgBuyPrice,
		})
	}
	return v, nil
}
