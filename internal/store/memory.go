package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"stocksim/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	ledgers  map[string]*model.Ledger
	orders   map[string]*model.LimitOrder
	txs      []model.Transaction
	points   []model.PortfolioPoint
	season   model.Season
	archives map[int64]*model.SeasonArchive
	ranking  *model.RankingSnapshot
	debates  map[string]*model.Debate
	quests   map[string]model.QuestProgress
	quizzes  map[string]*model.Quiz

	// favorites is keyed by user, then symbol.
	favorites map[string]map[string]model.Favorite
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers:  make(map[string]*model.Ledger),
		orders:   make(map[string]*model.LimitOrder),
		season:   model.Season{CurrentID: 1, StartDate: time.Now().UTC()},
		archives: make(map[int64]*model.SeasonArchive),
		debates:  make(map[string]*model.Debate),
		quests:   make(map[string]model.QuestProgress),
		quizzes:  make(map[string]*model.Quiz),

		favorites: make(map[string]map[string]model.Favorite),
	}
}

func (s *MemoryStore) CreateLedger(_ context.Context, l *model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[l.Account.UserID]; ok {
		return ErrConflict
	}
	s.ledgers[l.Account.UserID] = l.Clone()
	return nil
}

func (s *MemoryStore) GetLedger(_ context.Context, userID string) (*model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", userID, ErrNotFound)
	}
	return l.Clone(), nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.ledgers)), nil
}

func (s *MemoryStore) CommitLedger(_ context.Context, c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := c.Ledger.Account.UserID
	cur, ok := s.ledgers[userID]
	if !ok {
		return fmt.Errorf("ledger %s: %w", userID, ErrNotFound)
	}
	if cur.Account.Version != c.Ledger.Account.Version {
		return ErrConflict
	}
	var order *model.LimitOrder
	if c.FillOrder != nil {
		order, ok = s.orders[c.FillOrder.ID]
		if !ok {
			return fmt.Errorf("order %s: %w", c.FillOrder.ID, ErrNotFound)
		}
		if order.Status != model.OrderOpen {
			return ErrOrderNotOpen
		}
	}

	now := time.Now().UTC()
	c.Ledger.Account.Version++
	c.Ledger.Account.UpdatedAt = now
	s.ledgers[userID] = c.Ledger.Clone()
	s.txs = append(s.txs, c.Transactions...)
	if order != nil {
		order.Status = model.OrderFilled
		order.FilledPrice = c.FillOrder.FilledPrice
		order.UpdatedAt = now
		*c.FillOrder = *order
	}
	return nil
}

func (s *MemoryStore) CreateLimitOrder(_ context.Context, o *model.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLimitOrder(_ context.Context, id string) (*model.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListLimitOrders(_ context.Context, userID string, status model.OrderStatus) ([]model.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LimitOrder
	for _, o := range s.orders {
		if userID != "" && o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CancelLimitOrder(_ context.Context, id string) (*model.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.Status != model.OrderOpen {
		return nil, ErrOrderNotOpen
	}
	o.Status = model.OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TxFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	// Newest first.
	for i := len(s.txs) - 1; i >= 0; i-- {
		tx := s.txs[i]
		if f.UserID != "" && tx.UserID != f.UserID {
			continue
		}
		if f.Scope != "" && tx.Scope != f.Scope {
			continue
		}
		if f.SeasonID != AllSeasons && tx.SeasonID != f.SeasonID {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendPortfolioPoint(_ context.Context, p model.PortfolioPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, p)
	return nil
}

func (s *MemoryStore) ListPortfolioPoints(_ context.Context, userID string, seasonID int64) ([]model.PortfolioPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PortfolioPoint
	for _, p := range s.points {
		if p.UserID == userID && (seasonID == AllSeasons || p.SeasonID == seasonID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) StampSeason(_ context.Context, userID string, seasonID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.txs {
		if s.txs[i].UserID == userID && s.txs[i].SeasonID == model.UnstampedSeason {
			s.txs[i].SeasonID = seasonID
		}
	}
	for i := range s.points {
		if s.points[i].UserID == userID && s.points[i].SeasonID == model.UnstampedSeason {
			s.points[i].SeasonID = seasonID
		}
	}
	return nil
}

func (s *MemoryStore) GetSeason(_ context.Context) (model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.season, nil
}

func (s *MemoryStore) PutSeason(_ context.Context, season model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.season = season
	return nil
}

func (s *MemoryStore) GetArchive(_ context.Context, seasonID int64) (*model.SeasonArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.archives[seasonID]
	if !ok {
		return nil, fmt.Errorf("archive %d: %w", seasonID, ErrNotFound)
	}
	return cloneArchive(a), nil
}

func (s *MemoryStore) PutArchive(_ context.Context, a *model.SeasonArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archives[a.SeasonID] = cloneArchive(a)
	return nil
}

func (s *MemoryStore) ListArchives(_ context.Context) ([]model.SeasonArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SeasonArchive, 0, len(s.archives))
	for _, id := range slices.Sorted(maps.Keys(s.archives)) {
		out = append(out, *cloneArchive(s.archives[id]))
	}
	return out, nil
}

func (s *MemoryStore) DeleteSeasonData(_ context.Context, seasonID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.archives, seasonID)
	s.txs = slices.DeleteFunc(s.txs, func(tx model.Transaction) bool { return tx.SeasonID == seasonID })
	s.points = slices.DeleteFunc(s.points, func(p model.PortfolioPoint) bool { return p.SeasonID == seasonID })
	return nil
}

func (s *MemoryStore) ShiftSeason(_ context.Context, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hasFrom := s.archives[from]
	_, hasTo := s.archives[to]
	switch {
	case hasFrom && hasTo:
		return fmt.Errorf("shift season %d->%d: target archive exists", from, to)
	case !hasFrom && hasTo:
		// Already applied.
		s.season.RenumberedThrough = from
		return nil
	}
	if a, ok := s.archives[from]; ok {
		delete(s.archives, from)
		a.SeasonID = to
		a.Name = model.SeasonName(to, a.ClosedAt)
		s.archives[to] = a
	}
	for i := range s.txs {
		if s.txs[i].SeasonID == from {
			s.txs[i].SeasonID = to
		}
	}
	for i := range s.points {
		if s.points[i].SeasonID == from {
			s.points[i].SeasonID = to
		}
	}
	s.season.RenumberedThrough = from
	return nil
}

func (s *MemoryStore) GetRankingSnapshot(_ context.Context) (*model.RankingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ranking == nil {
		return nil, fmt.Errorf("ranking snapshot: %w", ErrNotFound)
	}
	return &model.RankingSnapshot{
		Personal:  slices.Clone(s.ranking.Personal),
		Groups:    slices.Clone(s.ranking.Groups),
		UpdatedAt: s.ranking.UpdatedAt,
	}, nil
}

func (s *MemoryStore) PutRankingSnapshot(_ context.Context, snap *model.RankingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranking = &model.RankingSnapshot{
		Personal:  slices.Clone(snap.Personal),
		Groups:    slices.Clone(snap.Groups),
		UpdatedAt: snap.UpdatedAt,
	}
	return nil
}

func (s *MemoryStore) ClearRankingSnapshot(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranking = nil
	return nil
}

func (s *MemoryStore) CreateDebate(_ context.Context, d *model.Debate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debates[d.ID]; ok {
		return fmt.Errorf("debate %s already exists", d.ID)
	}
	s.debates[d.ID] = cloneDebate(d)
	return nil
}

func (s *MemoryStore) GetDebate(_ context.Context, id string) (*model.Debate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, fmt.Errorf("debate %s: %w", id, ErrNotFound)
	}
	return cloneDebate(d), nil
}

func (s *MemoryStore) ListDebates(_ context.Context) ([]model.Debate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Debate, 0, len(s.debates))
	for _, d := range s.debates {
		out = append(out, *cloneDebate(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateDebate(_ context.Context, d *model.Debate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.debates[d.ID]
	if !ok {
		return fmt.Errorf("debate %s: %w", d.ID, ErrNotFound)
	}
	if cur.Version != d.Version {
		return ErrConflict
	}
	d.Version++
	s.debates[d.ID] = cloneDebate(d)
	return nil
}

func (s *MemoryStore) DeleteDebate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debates[id]; !ok {
		return fmt.Errorf("debate %s: %w", id, ErrNotFound)
	}
	delete(s.debates, id)
	return nil
}

func (s *MemoryStore) GetQuestProgress(_ context.Context, userID string) (model.QuestProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quests[userID]
	if !ok {
		return model.NewQuestProgress(userID), nil
	}
	return q, nil
}

func (s *MemoryStore) UpdateQuestProgress(_ context.Context, userID string, fn func(*model.QuestProgress) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quests[userID]
	if !ok {
		q = model.NewQuestProgress(userID)
	}
	if err := fn(&q); err != nil {
		return err
	}
	s.quests[userID] = q
	return nil
}

func (s *MemoryStore) CreateQuiz(_ context.Context, q *model.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *q
	cp.Choices = slices.Clone(q.Choices)
	s.quizzes[q.ID] = &cp
	return nil
}

func (s *MemoryStore) GetQuiz(_ context.Context, id string) (*model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[id]
	if !ok {
		return nil, fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	cp := *q
	cp.Choices = slices.Clone(q.Choices)
	return &cp, nil
}

func (s *MemoryStore) ListQuizzes(_ context.Context) ([]model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Quiz, 0, len(s.quizzes))
	for _, id := range slices.Sorted(maps.Keys(s.quizzes)) {
		q := *s.quizzes[id]
		q.Choices = slices.Clone(q.Choices)
		out = append(out, q)
	}
	return out, nil
}

func (s *MemoryStore) DeleteQuiz(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quizzes[id]; !ok {
		return fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	delete(s.quizzes, id)
	return nil
}

func (s *MemoryStore) PutFavorite(_ context.Context, f model.Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.favorites[f.UserID]
	if !ok {
		byUser = make(map[string]model.Favorite)
		s.favorites[f.UserID] = byUser
	}
	if cur, ok := byUser[f.Symbol]; ok {
		f.AddedAt = cur.AddedAt
	}
	byUser[f.Symbol] = f
	return nil
}

func (s *MemoryStore) DeleteFavorite(_ context.Context, userID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.favorites[userID][symbol]; !ok {
		return fmt.Errorf("favorite %s/%s: %w", userID, symbol, ErrNotFound)
	}
	delete(s.favorites[userID], symbol)
	return nil
}

func (s *MemoryStore) ListFavorites(_ context.Context, userID string) ([]model.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.favorites[userID]))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func cloneArchive(a *model.SeasonArchive) *model.SeasonArchive {
	cp := *a
	cp.TopRankers = slices.Clone(a.TopRankers)
	cp.Records = make(map[string]model.ArchiveRecord, len(a.Records))
	for k, r := range a.Records {
		r.FinalHoldings = slices.Clone(r.FinalHoldings)
		cp.Records[k] = r
	}
	return &cp
}

func cloneDebate(d *model.Debate) *model.Debate {
	cp := *d
	cp.Voters = maps.Clone(d.Voters)
	if cp.Voters == nil {
		cp.Voters = make(map[string]model.Choice)
	}
	return &cp
}
