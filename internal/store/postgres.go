package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stocksim/internal/model"
)

// PostgresStore implements Store on PostgreSQL. Money and quantities are
// NUMERIC columns exchanged as text so no precision is lost in transit.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func (s *PostgresStore) CreateLedger(ctx context.Context, l *model.Ledger) error {
	a := l.Account
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sim.accounts (user_id, nickname, grp, status, cash, quiz_tries, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $8)
		ON CONFLICT (user_id) DO NOTHING
	`, a.UserID, a.Nickname, a.Group, a.Status, a.Cash.String(), a.QuizTries, a.Version, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", a.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, userID string) (*model.Ledger, error) {
	l := &model.Ledger{Holdings: make(map[string]model.Holding)}
	var cash string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, nickname, grp, status, cash::TEXT, quiz_tries, version, created_at, updated_at
		FROM sim.accounts
		WHERE user_id = $1
	`, userID).Scan(&l.Account.UserID, &l.Account.Nickname, &l.Account.Group, &l.Account.Status,
		&cash, &l.Account.QuizTries, &l.Account.Version, &l.Account.CreatedAt, &l.Account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get ledger %s: %w", userID, err)
	}
	l.Account.Cash = dec(cash)

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, quantity::TEXT, avg_buy_price::TEXT
		FROM sim.holdings
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h model.Holding
		var qty, avg string
		if err := rows.Scan(&h.Symbol, &qty, &avg); err != nil {
			return nil, err
		}
		h.Quantity = dec(qty)
		h.AvgBuyPrice = dec(avg)
		l.Holdings[h.Symbol] = h
	}
	return l, rows.Err()
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM sim.accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) CommitLedger(ctx context.Context, c Commit) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	a := c.Ledger.Account
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE sim.accounts
		SET nickname = $1, grp = $2, status = $3, cash = $4::NUMERIC, quiz_tries = $5,
		    version = version + 1, updated_at = $6
		WHERE user_id = $7 AND version = $8
	`, a.Nickname, a.Group, a.Status, a.Cash.String(), a.QuizTries, now, a.UserID, a.Version)
	if err != nil {
		return fmt.Errorf("commit ledger %s: %w", a.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sim.accounts WHERE user_id = $1)`, a.UserID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("ledger %s: %w", a.UserID, ErrNotFound)
		}
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sim.holdings WHERE user_id = $1`, a.UserID); err != nil {
		return err
	}
	for _, h := range c.Ledger.Holdings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.holdings (user_id, symbol, quantity, avg_buy_price)
			VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		`, a.UserID, h.Symbol, h.Quantity.String(), h.AvgBuyPrice.String()); err != nil {
			return err
		}
	}
	for _, t := range c.Transactions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.transactions (id, trade_id, user_id, symbol, side, kind, scope, quantity, price, fee, season_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)
		`, t.ID, t.TradeID, t.UserID, t.Symbol, t.Side, t.Kind, t.Scope,
			t.Quantity.String(), t.Price.String(), t.Fee.String(), t.SeasonID, t.CreatedAt); err != nil {
			return err
		}
	}
	if c.FillOrder != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE sim.limit_orders
			SET status = 'filled', filled_price = $2::NUMERIC, updated_at = $3
			WHERE id = $1 AND status = 'open'
		`, c.FillOrder.ID, c.FillOrder.FilledPrice.String(), now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotOpen
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	c.Ledger.Account.Version++
	c.Ledger.Account.UpdatedAt = now
	if c.FillOrder != nil {
		c.FillOrder.Status = model.OrderFilled
		c.FillOrder.UpdatedAt = now
	}
	return nil
}

const limitOrderColumns = `id, user_id, symbol, side, limit_price::TEXT, quantity::TEXT, status, filled_price::TEXT, created_at, updated_at`

func scanLimitOrder(row pgx.Row) (*model.LimitOrder, error) {
	var o model.LimitOrder
	var limit, qty, filled string
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &limit, &qty, &o.Status, &filled, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.LimitPrice = dec(limit)
	o.Quantity = dec(qty)
	o.FilledPrice = dec(filled)
	return &o, nil
}

func (s *PostgresStore) CreateLimitOrder(ctx context.Context, o *model.LimitOrder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sim.limit_orders (id, user_id, symbol, side, limit_price, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
	`, o.ID, o.UserID, o.Symbol, o.Side, o.LimitPrice.String(), o.Quantity.String(), o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *PostgresStore) GetLimitOrder(ctx context.Context, id string) (*model.LimitOrder, error) {
	o, err := scanLimitOrder(s.pool.QueryRow(ctx, `SELECT `+limitOrderColumns+` FROM sim.limit_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (s *PostgresStore) ListLimitOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+limitOrderColumns+`
		FROM sim.limit_orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
	`, userID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LimitOrder
	for rows.Next() {
		o, err := scanLimitOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CancelLimitOrder(ctx context.Context, id string) (*model.LimitOrder, error) {
	o, err := scanLimitOrder(s.pool.QueryRow(ctx, `
		UPDATE sim.limit_orders
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING `+limitOrderColumns, id))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetLimitOrder(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrOrderNotOpen
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f TxFilter) ([]model.Transaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, trade_id, user_id, symbol, side, kind, scope, quantity::TEXT, price::TEXT, fee::TEXT, season_id, created_at
		FROM sim.transactions
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR scope = $2) AND ($3 < 0 OR season_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4
	`, f.UserID, string(f.Scope), f.SeasonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var qty, price, fee string
		if err := rows.Scan(&t.ID, &t.TradeID, &t.UserID, &t.Symbol, &t.Side, &t.Kind, &t.Scope,
			&qty, &price, &fee, &t.SeasonID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Quantity = dec(qty)
		t.Price = dec(price)
		t.Fee = dec(fee)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendPortfolioPoint(ctx context.Context, p model.PortfolioPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sim.portfolio_points (user_id, total_asset, profit_rate, season_id, recorded_at)
		VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5)
	`, p.UserID, p.TotalAsset.String(), p.ProfitRate.String(), p.SeasonID, p.RecordedAt)
	return err
}

func (s *PostgresStore) ListPortfolioPoints(ctx context.Context, userID string, seasonID int64) ([]model.PortfolioPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, total_asset::TEXT, profit_rate::TEXT, season_id, recorded_at
		FROM sim.portfolio_points
		WHERE user_id = $1 AND ($2 < 0 OR season_id = $2)
		ORDER BY recorded_at
	`, userID, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PortfolioPoint
	for rows.Next() {
		var p model.PortfolioPoint
		var total, rate string
		if err := rows.Scan(&p.UserID, &total, &rate, &p.SeasonID, &p.RecordedAt); err != nil {
			return nil, err
		}
		p.TotalAsset = dec(total)
		p.ProfitRate = dec(rate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StampSeason(ctx context.Context, userID string, seasonID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE sim.transactions SET season_id = $2 WHERE user_id = $1 AND season_id = 0`, userID, seasonID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE sim.portfolio_points SET season_id = $2 WHERE user_id = $1 AND season_id = 0`, userID, seasonID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSeason(ctx context.Context) (model.Season, error) {
	var season model.Season
	err := s.pool.QueryRow(ctx, `
		SELECT current_id, start_date, deleting_id, renumbered_through
		FROM sim.season_state
		WHERE id = 1
	`).Scan(&season.CurrentID, &season.StartDate, &season.DeletingID, &season.RenumberedThrough)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return season, err
	}

	season = model.Season{CurrentID: 1, StartDate: time.Now().UTC()}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sim.season_state (id, current_id, start_date)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, season.CurrentID, season.StartDate)
	if err != nil {
		return season, err
	}
	return season, nil
}

func (s *PostgresStore) PutSeason(ctx context.Context, season model.Season) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sim.season_state (id, current_id, start_date, deleting_id, renumbered_through)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET current_id = EXCLUDED.current_id, start_date = EXCLUDED.start_date,
		    deleting_id = EXCLUDED.deleting_id, renumbered_through = EXCLUDED.renumbered_through
	`, season.CurrentID, season.StartDate, season.DeletingID, season.RenumberedThrough)
	return err
}

const archiveColumns = `season_id, name, status, start_date, closed_at, top_rankers, records`

func scanArchive(row pgx.Row) (*model.SeasonArchive, error) {
	var a model.SeasonArchive
	var top, records []byte
	if err := row.Scan(&a.SeasonID, &a.Name, &a.Status, &a.StartDate, &a.ClosedAt, &top, &records); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(top, &a.TopRankers); err != nil {
		return nil, fmt.Errorf("decode top rankers of season %d: %w", a.SeasonID, err)
	}
	if err := json.Unmarshal(records, &a.Records); err != nil {
		return nil, fmt.Errorf("decode records of season %d: %w", a.SeasonID, err)
	}
	return &a, nil
}

func (s *PostgresStore) GetArchive(ctx context.Context, seasonID int64) (*model.SeasonArchive, error) {
	a, err := scanArchive(s.pool.QueryRow(ctx, `SELECT `+archiveColumns+` FROM sim.season_archives WHERE season_id = $1`, seasonID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archive %d: %w", seasonID, ErrNotFound)
	}
	return a, err
}

func (s *PostgresStore) PutArchive(ctx context.Context, a *model.SeasonArchive) error {
	top, err := json.Marshal(a.TopRankers)
	if err != nil {
		return err
	}
	records, err := json.Marshal(a.Records)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sim.season_archives (season_id, name, status, start_date, closed_at, top_rankers, records)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		ON CONFLICT (season_id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, start_date = EXCLUDED.start_date,
		    closed_at = EXCLUDED.closed_at, top_rankers = EXCLUDED.top_rankers, records = EXCLUDED.records
	`, a.SeasonID, a.Name, a.Status, a.StartDate, a.ClosedAt, string(top), string(records))
	return err
}

func (s *PostgresStore) ListArchives(ctx context.Context) ([]model.SeasonArchive, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+archiveColumns+` FROM sim.season_archives ORDER BY season_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SeasonArchive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSeasonData(ctx context.Context, seasonID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		`DELETE FROM sim.season_archives WHERE season_id = $1`,
		`DELETE FROM sim.transactions WHERE season_id = $1`,
		`DELETE FROM sim.portfolio_points WHERE season_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, seasonID); err != nil {
			return fmt.Errorf("delete season %d: %w", seasonID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ShiftSeason(ctx context.Context, from, to int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var hasFrom, hasTo bool
	var closedAt time.Time
	if err := tx.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM sim.season_archives WHERE season_id = $1),
			EXISTS (SELECT 1 FROM sim.season_archives WHERE season_id = $2),
			COALESCE((SELECT closed_at FROM sim.season_archives WHERE season_id = $1), now())
	`, from, to).Scan(&hasFrom, &hasTo, &closedAt); err != nil {
		return err
	}
	switch {
	case hasFrom && hasTo:
		return fmt.Errorf("shift season %d->%d: target archive exists", from, to)
	case hasFrom:
		if _, err := tx.Exec(ctx, `
			UPDATE sim.season_archives SET season_id = $2, name = $3 WHERE season_id = $1
		`, from, to, model.SeasonName(to, closedAt)); err != nil {
			return err
		}
		fallthrough
	case !hasTo:
		if _, err := tx.Exec(ctx, `UPDATE sim.transactions SET season_id = $2 WHERE season_id = $1`, from, to); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE sim.portfolio_points SET season_id = $2 WHERE season_id = $1`, from, to); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE sim.season_state SET renumbered_through = $1 WHERE id = 1`, from); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRankingSnapshot(ctx context.Context) (*model.RankingSnapshot, error) {
	var snap model.RankingSnapshot
	var personal, groups []byte
	err := s.pool.QueryRow(ctx, `SELECT personal, group_ranks, updated_at FROM sim.ranking_snapshot WHERE id = 1`).
		Scan(&personal, &groups, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ranking snapshot: %w", ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal(personal, &snap.Personal); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(groups, &snap.Groups); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) PutRankingSnapshot(ctx context.Context, snap *model.RankingSnapshot) error {
	personal, err := json.Marshal(snap.Personal)
	if err != nil {
		return err
	}
	groups, err := json.Marshal(snap.Groups)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sim.ranking_snapshot (id, personal, group_ranks, updated_at)
		VALUES (1, $1::jsonb, $2::jsonb, $3)
		ON CONFLICT (id) DO UPDATE
		SET personal = EXCLUDED.personal, group_ranks = EXCLUDED.group_ranks, updated_at = EXCLUDED.updated_at
	`, string(personal), string(groups), snap.UpdatedAt)
	return err
}

func (s *PostgresStore) ClearRankingSnapshot(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sim.ranking_snapshot WHERE id = 1`)
	return err
}

const debateColumns = `id, topic, o_votes, x_votes, voters, status, correct_answer, version, created_at`

func scanDebate(row pgx.Row) (*model.Debate, error) {
	var d model.Debate
	var voters []byte
	if err := row.Scan(&d.ID, &d.Topic, &d.OVotes, &d.XVotes, &voters, &d.Status, &d.CorrectAnswer, &d.Version, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(voters, &d.Voters); err != nil {
		return nil, fmt.Errorf("decode voters of debate %s: %w", d.ID, err)
	}
	if d.Voters == nil {
		d.Voters = make(map[string]model.Choice)
	}
	return &d, nil
}

func (s *PostgresStore) CreateDebate(ctx context.Context, d *model.Debate) error {
	voters, err := json.Marshal(d.Voters)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sim.debates (id, topic, o_votes, x_votes, voters, status, correct_answer, version, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
	`, d.ID, d.Topic, d.OVotes, d.XVotes, string(voters), d.Status, d.CorrectAnswer, d.Version, d.CreatedAt)
	return err
}

func (s *PostgresStore) GetDebate(ctx context.Context, id string) (*model.Debate, error) {
	d, err := scanDebate(s.pool.QueryRow(ctx, `SELECT `+debateColumns+` FROM sim.debates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("debate %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (s *PostgresStore) ListDebates(ctx context.Context) ([]model.Debate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+debateColumns+` FROM sim.debates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Debate
	for rows.Next() {
		d, err := scanDebate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDebate(ctx context.Context, d *model.Debate) error {
	voters, err := json.Marshal(d.Voters)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sim.debates
		SET topic = $2, o_votes = $3, x_votes = $4, voters = $5::jsonb, status = $6,
		    correct_answer = $7, version = version + 1
		WHERE id = $1 AND version = $8
	`, d.ID, d.Topic, d.OVotes, d.XVotes, string(voters), d.Status, d.CorrectAnswer, d.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDebate(ctx, d.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	d.Version++
	return nil
}

func (s *PostgresStore) DeleteDebate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sim.debates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debate %s: %w", id, ErrNotFound)
	}
	return nil
}

const questColumns = `user_id, profit_rate_achieved, ox_correct_answers, beginner_status, intermediate_status, advanced_status, badge`

func scanQuest(row pgx.Row) (model.QuestProgress, error) {
	var q model.QuestProgress
	err := row.Scan(&q.UserID, &q.ProfitRateAchieved, &q.OXCorrectAnswers,
		&q.BeginnerStatus, &q.IntermediateStatus, &q.AdvancedStatus, &q.Badge)
	return q, err
}

func (s *PostgresStore) GetQuestProgress(ctx context.Context, userID string) (model.QuestProgress, error) {
	q, err := scanQuest(s.pool.QueryRow(ctx, `SELECT `+questColumns+` FROM sim.quest_progress WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewQuestProgress(userID), nil
	}
	return q, err
}

func (s *PostgresStore) UpdateQuestProgress(ctx context.Context, userID string, fn func(*model.QuestProgress) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sim.quest_progress (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return err
	}
	q, err := scanQuest(tx.QueryRow(ctx, `SELECT `+questColumns+` FROM sim.quest_progress WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return err
	}
	if err := fn(&q); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sim.quest_progress
		SET profit_rate_achieved = $2, ox_correct_answers = $3, beginner_status = $4,
		    intermediate_status = $5, advanced_status = $6, badge = $7
		WHERE user_id = $1
	`, userID, q.ProfitRateAchieved, q.OXCorrectAnswers, q.BeginnerStatus, q.IntermediateStatus, q.AdvancedStatus, q.Badge); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateQuiz(ctx context.Context, q *model.Quiz) error {
	choices, err := json.Marshal(q.Choices)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sim.quizzes (id, question, choices, answer_index)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO UPDATE
		SET question = EXCLUDED.question, choices = EXCLUDED.choices, answer_index = EXCLUDED.answer_index
	`, q.ID, q.Question, string(choices), q.AnswerIndex)
	return err
}

func scanQuiz(row pgx.Row) (*model.Quiz, error) {
	var q model.Quiz
	var choices []byte
	if err := row.Scan(&q.ID, &q.Question, &choices, &q.AnswerIndex); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(choices, &q.Choices); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PostgresStore) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	q, err := scanQuiz(s.pool.QueryRow(ctx, `SELECT id, question, choices, answer_index FROM sim.quizzes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	return q, err
}

func (s *PostgresStore) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, question, choices, answer_index FROM sim.quizzes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteQuiz(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sim.quizzes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) PutFavorite(ctx context.Context, f model.Favorite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sim.favorites (user_id, symbol, name, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, symbol) DO UPDATE SET name = EXCLUDED.name
	`, f.UserID, f.Symbol, f.Name, f.AddedAt)
	return err
}

func (s *PostgresStore) DeleteFavorite(ctx context.Context, userID, symbol string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sim.favorites WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("favorite %s/%s: %w", userID, symbol, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]model.Favorite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, symbol, name, added_at FROM sim.favorites
		WHERE user_id = $1
		ORDER BY added_at, symbol
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Favorite
	for rows.Next() {
		var f model.Favorite
		if err := rows.Scan(&f.UserID, &f.Symbol, &f.Name, &f.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
