// Package valuation prices portfolios against live quotes.
package valuation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
)

type HoldingValue struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgBuyPrice   decimal.Decimal `json:"avg_buy_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitRate    decimal.Decimal `json:"profit_rate"`
	Resolved      bool            `json:"resolved"`
}

// Valuation is a best-effort view. When Partial is set, the symbols in
// Unresolved contributed per the configured missing-quote policy.
type Valuation struct {
	UserID     string          `json:"user_id"`
	Cash       decimal.Decimal `json:"cash"`
	Holdings   []HoldingValue  `json:"holdings"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
	Partial    bool            `json:"partial"`
	Unresolved []string        `json:"unresolved,omitempty"`
	ValuedAt   time.Time       `json:"valued_at"`
}

type LedgerReader interface {
	Get(ctx context.Context, userID string) (*model.Ledger, error)
}

type Service struct {
	ledgers     LedgerReader
	store       store.Store
	quotes      oracle.Quoter
	rules       model.Rules
	parallelism int
	log         *slog.Logger
}

func NewService(ledgers LedgerReader, st store.Store, quotes oracle.Quoter, rules model.Rules, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledgers: ledgers, store: st, quotes: quotes, rules: rules, parallelism: 8, log: logger}
}

func (s *Service) ValuePortfolio(ctx context.Context, userID string) (Valuation, error) {
	l, err := s.ledgers.Get(ctx, userID)
	if err != nil {
		return Valuation{}, err
	}
	return s.ValueLedger(ctx, l, nil), nil
}

// ValueLedger values already-loaded state. A nil quotes uses the service's
// own source; batch jobs pass a shared oracle.Memo.
func (s *Service) ValueLedger(ctx context.Context, l *model.Ledger, quotes oracle.Quoter) Valuation {
	if quotes == nil {
		quotes = s.quotes
	}
	symbols := make([]string, 0, len(l.Holdings))
	for sym := range l.Holdings {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)

	rows := make([]HoldingValue, len(symbols))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, sym := range symbols {
		h := l.Holdings[sym]
		rows[i] = HoldingValue{Symbol: sym, Quantity: h.Quantity, AvgBuyPrice: h.AvgBuyPrice}
		g.Go(func() error {
			q, err := quotes.GetQuote(ctx, sym)
			if err != nil {
				s.log.Debug("holding left unresolved", "user_id", l.Account.UserID, "symbol", sym, "err", err)
				return nil
			}
			rows[i].CurrentPrice = q.Price
			rows[i].ChangePercent = q.ChangePercent
			rows[i].Resolved = true
			return nil
		})
	}
	_ = g.Wait()

	v := Valuation{
		UserID:   l.Account.UserID,
		Cash:     l.Account.Cash,
		Holdings: rows,
		ValuedAt: time.Now().UTC(),
	}
	total := l.Account.Cash
	for i := range rows {
		r := &rows[i]
		if r.Resolved {
			r.CurrentValue = model.Notional(r.CurrentPrice, r.Quantity)
			r.ProfitLoss = r.CurrentPrice.Sub(r.AvgBuyPrice).Mul(r.Quantity).Round(2)
			r.ProfitRate = model.ProfitRate(r.CurrentPrice, r.AvgBuyPrice)
			total = total.Add(r.CurrentValue)
			continue
		}
		v.Partial = true
		v.Unresolved = append(v.Unresolved, r.Symbol)
		if s.rules.MissingQuote == model.MissingQuoteCost {
			r.CurrentValue = model.Notional(r.AvgBuyPrice, r.Quantity)
			total = total.Add(r.CurrentValue)
		}
	}
	v.TotalAsset = total
	v.ProfitLoss = total.Sub(s.rules.InitialCapital)
	v.ProfitRate = model.ProfitRate(total, s.rules.InitialCapital)
	return v
}

// History returns recorded valuation points. seasonID 0 means the running
// season.
func (s *Service) History(ctx context.Context, userID string, seasonID int64) ([]model.PortfolioPoint, error) {
	if seasonID != 0 {
		cur, err := s.store.GetSeason(ctx)
		if err != nil {
			return nil, err
		}
		if seasonID == cur.CurrentID {
			seasonID = model.UnstampedSeason
		}
	}
	return s.store.ListPortfolioPoints(ctx, userID, seasonID)
}

// UnresolvedSummary is a log-friendly rendering of v.Unresolved.
func (v Valuation) UnresolvedSummary() string {
	return strings.Join(v.Unresolved, ",")
}
