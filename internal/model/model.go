// Package model holds the domain types of the trading simulation. Money and
// quantities are shopspring decimals; nothing in the ledger path uses float64.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", ErrInvalidSide
	}
}

type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

type TxKind string

const (
	TxMarket TxKind = "market"
	TxLimit  TxKind = "limit"
)

// TxScope distinguishes the two projections written for every trade.
type TxScope string

const (
	ScopeSeason  TxScope = "season"
	ScopeAllTime TxScope = "all_time"
)

// UnstampedSeason marks records written during the running season. They are
// stamped with the closing season id when the season ends.
const UnstampedSeason = int64(0)

// DustQuantity is the threshold below which a holding is deleted.
var DustQuantity = decimal.RequireFromString("0.00001")

var symbolRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)

func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRE.MatchString(symbol) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return symbol, nil
}

type Account struct {
	UserID    string          `json:"user_id"`
	Nickname  string          `json:"nickname"`
	Group     string          `json:"group"`
	Status    AccountStatus   `json:"status"`
	Cash      decimal.Decimal `json:"cash"`
	QuizTries int             `json:"quiz_tries"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// Ledger is the per-user aggregate: the account row plus its holdings. It is
// read and committed as one unit guarded by Account.Version.
type Ledger struct {
	Account  Account            `json:"account"`
	Holdings map[string]Holding `json:"holdings"`
}

func (l *Ledger) Clone() *Ledger {
	out := &Ledger{Account: l.Account, Holdings: make(map[string]Holding, len(l.Holdings))}
	for k, v := range l.Holdings {
		out.Holdings[k] = v
	}
	return out
}

// IsReset reports whether the ledger already holds exactly the initial state.
func (l *Ledger) IsReset(initialCapital decimal.Decimal) bool {
	return l.Account.Cash.Equal(initialCapital) && len(l.Holdings) == 0 && l.Account.QuizTries == 0
}

type Transaction struct {
	ID        string          `json:"id"`
	TradeID   string          `json:"trade_id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      TxKind          `json:"kind"`
	Scope     TxScope         `json:"scope"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	SeasonID  int64           `json:"season_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type LimitOrder struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      OrderStatus     `json:"status"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Triggered reports whether the observed price satisfies the order's limit.
func (o LimitOrder) Triggered(price decimal.Decimal) bool {
	switch o.Side {
	case SideBuy:
		return price.LessThanOrEqual(o.LimitPrice)
	case SideSell:
		return price.GreaterThanOrEqual(o.LimitPrice)
	}
	return false
}

// Season is the singleton pointer to the running season. DeletingID and
// RenumberedThrough persist the progress of an interrupted season deletion.
type Season struct {
	CurrentID         int64     `json:"current_id"`
	StartDate         time.Time `json:"start_date"`
	DeletingID        int64     `json:"deleting_id,omitempty"`
	RenumberedThrough int64     `json:"renumbered_through,omitempty"`
}

func SeasonName(id int64, closedAt time.Time) string {
	return fmt.Sprintf("Season %d (closed %s)", id, closedAt.UTC().Format("2006-01-02"))
}

type ArchiveStatus string

const (
	ArchiveClosing ArchiveStatus = "closing"
	ArchiveClosed  ArchiveStatus = "closed"
)

type ArchiveRecord struct {
	UserID        string          `json:"user_id"`
	Nickname      string          `json:"nickname"`
	Group         string          `json:"group"`
	FinalAsset    decimal.Decimal `json:"final_asset"`
	ProfitRate    decimal.Decimal `json:"profit_rate"`
	FinalCash     decimal.Decimal `json:"final_cash"`
	FinalHoldings []Holding       `json:"final_holdings"`
}

// SeasonArchive is the hall-of-fame entry for one closed season.
type SeasonArchive struct {
	SeasonID   int64                    `json:"season_id"`
	Name       string                   `json:"name"`
	Status     ArchiveStatus            `json:"status"`
	StartDate  time.Time                `json:"start_date"`
	ClosedAt   time.Time                `json:"closed_at"`
	TopRankers []PersonalRank           `json:"top_rankers"`
	Records    map[string]ArchiveRecord `json:"records"`
}

type PersonalRank struct {
	Rank       int             `json:"rank"`
	UserID     string          `json:"user_id"`
	Nickname   string          `json:"nickname"`
	Group      string          `json:"group"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
}

type GroupRank struct {
	Rank          int             `json:"rank"`
	Group         string          `json:"group"`
	AvgProfitRate decimal.Decimal `json:"avg_profit_rate"`
	MemberCount   int             `json:"member_count"`
}

type RankingSnapshot struct {
	Personal  []PersonalRank `json:"personal"`
	Groups    []GroupRank    `json:"groups"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type PortfolioPoint struct {
	UserID     string          `json:"user_id"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
	SeasonID   int64           `json:"season_id"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type Choice string

const (
	ChoiceO Choice = "O"
	ChoiceX Choice = "X"
)

func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToUpper(strings.TrimSpace(s))) {
	case ChoiceO:
		return ChoiceO, nil
	case ChoiceX:
		return ChoiceX, nil
	default:
		return "", fmt.Errorf("%w: choice must be O or X", ErrInvalidArgument)
	}
}

type DebateStatus string

const (
	DebateProgressing DebateStatus = "progressing"
	DebateClosed      DebateStatus = "closed"
)

type Debate struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	OVotes        int               `json:"o_votes"`
	XVotes        int               `json:"x_votes"`
	Voters        map[string]Choice `json:"voters"`
	Status        DebateStatus      `json:"status"`
	CorrectAnswer Choice            `json:"correct_answer,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

type QuestStatus string

const (
	QuestLocked     QuestStatus = "locked"
	QuestInProgress QuestStatus = "in_progress"
	QuestCompleted  QuestStatus = "completed"
)

type QuestProgress struct {
	UserID             string      `json:"user_id"`
	ProfitRateAchieved bool        `json:"profit_rate_achieved"`
	OXCorrectAnswers   int         `json:"ox_correct_answers"`
	BeginnerStatus     QuestStatus `json:"beginner_status"`
	IntermediateStatus QuestStatus `json:"intermediate_status"`
	AdvancedStatus     QuestStatus `json:"advanced_status"`
	Badge              string      `json:"badge,omitempty"`
}

func NewQuestProgress(userID string) QuestProgress {
	return QuestProgress{
		UserID:             userID,
		BeginnerStatus:     QuestInProgress,
		IntermediateStatus: QuestLocked,
		AdvancedStatus:     QuestLocked,
	}
}

type Quiz struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"-"`
}

// Favorite is one symbol on a user's watchlist.
type Favorite struct {
	UserID  string    `json:"-"`
	Symbol  string    `json:"symbol"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// Identity is what the identity provider vouches for on each request.
type Identity struct {
	UserID        string
	Email         string
	IsAdmin       bool
	EmailVerified bool
}
