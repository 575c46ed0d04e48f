// Package store defines the persistence interface for the simulation.
// PostgresStore is the source of truth; MemoryStore backs tests and local
// development.
package store

import (
	"context"
	"errors"

	"stocksim/internal/model"
)

var (
	// ErrConflict means a conditional write lost against a concurrent writer.
	ErrConflict = errors.New("store: concurrent modification")
	ErrNotFound = errors.New("store: not found")
	// ErrOrderNotOpen means a conditional order transition found the order
	// already filled or cancelled.
	ErrOrderNotOpen = errors.New("store: order is not open")
)

// AllSeasons disables the season filter of a TxFilter.
const AllSeasons = int64(-1)

type TxFilter struct {
	UserID   string
	Scope    model.TxScope
	SeasonID int64
	Limit    int
}

// Commit is one per-user atomic unit. Ledger.Account.Version must hold the
// version that was read; on success the store bumps it.
type Commit struct {
	Ledger       *model.Ledger
	Transactions []model.Transaction
	// FillOrder, when set, is moved open→filled in the same unit.
	FillOrder *model.LimitOrder
}

type Store interface {
	// --- Ledgers ---

	// CreateLedger inserts a fresh ledger; ErrConflict if one exists.
	CreateLedger(ctx context.Context, l *model.Ledger) error
	GetLedger(ctx context.Context, userID string) (*model.Ledger, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	// CommitLedger conditionally replaces the account row and holding set.
	CommitLedger(ctx context.Context, c Commit) error

	// --- Limit orders ---

	CreateLimitOrder(ctx context.Context, o *model.LimitOrder) error
	GetLimitOrder(ctx context.Context, id string) (*model.LimitOrder, error)
	// ListLimitOrders filters by user (empty for all users) and status
	// (empty for any).
	ListLimitOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.LimitOrder, error)
	// CancelLimitOrder moves an open order to cancelled; ErrOrderNotOpen if
	// it already reached a terminal state.
	CancelLimitOrder(ctx context.Context, id string) (*model.LimitOrder, error)

	// --- Transactions and valuation history ---

	ListTransactions(ctx context.Context, f TxFilter) ([]model.Transaction, error)
	AppendPortfolioPoint(ctx context.Context, p model.PortfolioPoint) error
	ListPortfolioPoints(ctx context.Context, userID string, seasonID int64) ([]model.PortfolioPoint, error)
	// StampSeason labels every unstamped transaction and portfolio point of
	// the user with seasonID.
	StampSeason(ctx context.Context, userID string, seasonID int64) error

	// --- Seasons ---

	GetSeason(ctx context.Context) (model.Season, error)
	PutSeason(ctx context.Context, s model.Season) error
	GetArchive(ctx context.Context, seasonID int64) (*model.SeasonArchive, error)
	PutArchive(ctx context.Context, a *model.SeasonArchive) error
	ListArchives(ctx context.Context) ([]model.SeasonArchive, error)
	// DeleteSeasonData removes the archive and every record stamped with
	// seasonID.
	DeleteSeasonData(ctx context.Context, seasonID int64) error
	// ShiftSeason relabels archive and stamped records from one id to
	// another and records the progress cursor, all in one atomic step.
	ShiftSeason(ctx context.Context, from, to int64) error

	// --- Rankings ---

	GetRankingSnapshot(ctx context.Context) (*model.RankingSnapshot, error)
	PutRankingSnapshot(ctx context.Context, snap *model.RankingSnapshot) error
	ClearRankingSnapshot(ctx context.Context) error

	// --- Debates ---

	CreateDebate(ctx context.Context, d *model.Debate) error
	GetDebate(ctx context.Context, id string) (*model.Debate, error)
	ListDebates(ctx context.Context) ([]model.Debate, error)
	// UpdateDebate writes d if the stored version still equals d.Version and
	// bumps it; ErrConflict otherwise.
	UpdateDebate(ctx context.Context, d *model.Debate) error
	DeleteDebate(ctx context.Context, id string) error

	// --- Quests and quizzes ---

	GetQuestProgress(ctx context.Context, userID string) (model.QuestProgress, error)
	// UpdateQuestProgress applies fn atomically; a missing record starts
	// from model.NewQuestProgress.
	UpdateQuestProgress(ctx context.Context, userID string, fn func(*model.QuestProgress) error) error
	CreateQuiz(ctx context.Context, q *model.Quiz) error
	GetQuiz(ctx context.Context, id string) (*model.Quiz, error)
	ListQuizzes(ctx context.Context) ([]model.Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error

	// --- Watchlists ---

	// PutFavorite adds the symbol or renames an existing entry, keeping its
	// original AddedAt.
	PutFavorite(ctx context.Context, f model.Favorite) error
	// DeleteFavorite is ErrNotFound when the symbol is not listed.
	DeleteFavorite(ctx context.Context, userID, symbol string) error
	// ListFavorites returns the user's entries oldest first.
	ListFavorites(ctx context.Context, userID string) ([]model.Favorite, error)
}
