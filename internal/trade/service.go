// Package trade executes market orders and manages resting limit orders.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stocksim/internal/ledger"
	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
)

type Service struct {
	ledger *ledger.Service
	store  store.Store
	quotes oracle.Quoter
	rules  model.Rules
	log    *slog.Logger
}

func NewService(ledgers *ledger.Service, st store.Store, quotes oracle.Quoter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger: ledgers,
		store:  st,
		quotes: quotes,
		rules:  ledgers.Rules(),
		log:    logger,
	}
}

// MarketOrderInput carries either Quantity or Amount (home currency), not both.
type MarketOrderInput struct {
	UserID   string          `json:"-"`
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type LimitOrderInput struct {
	UserID     string          `json:"-"`
	Symbol     string          `json:"symbol"`
	Side       model.Side      `json:"side"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type TradeResult struct {
	TradeID  string          `json:"trade_id"`
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Fee      decimal.Decimal `json:"fee"`
	Cash     decimal.Decimal `json:"cash"`
	Message  string          `json:"message"`
}

// fill is one trade about to hit a ledger.
type fill struct {
	userID   string
	symbol   string
	side     model.Side
	kind     model.TxKind
	quantity decimal.Decimal
	price    decimal.Decimal
	notional decimal.Decimal
	fee      decimal.Decimal
	// minNotional is enforced inside the ledger mutation for sells, where
	// closing a whole position is always allowed.
	minNotional decimal.Decimal
	order       *model.LimitOrder
}

func (s *Service) PlaceMarketOrder(ctx context.Context, in MarketOrderInput) (TradeResult, error) {
	res, err := s.placeMarketOrder(ctx, in)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return res, err
	}
	metrics.TradesTotal.WithLabelValues(string(res.Side), string(model.TxMarket)).Inc()
	return res, nil
}

func (s *Service) placeMarketOrder(ctx context.Context, in MarketOrderInput) (TradeResult, error) {
	var out TradeResult
	symbol, err := model.NormalizeSymbol(in.Symbol)
	if err != nil {
		return out, err
	}
	side, err := model.ParseSide(string(in.Side))
	if err != nil {
		return out, err
	}
	byAmount := !in.Amount.IsZero()
	switch {
	case byAmount && !in.Quantity.IsZero():
		return out, fmt.Errorf("%w: give either quantity or amount, not both", model.ErrInvalidArgument)
	case byAmount && !in.Amount.IsPositive():
		return out, fmt.Errorf("%w: amount must be > 0", model.ErrInvalidArgument)
	case !byAmount && !in.Quantity.IsPositive():
		return out, fmt.Errorf("%w: quantity must be > 0", model.ErrInvalidArgument)
	}
	if byAmount && in.Amount.LessThan(s.rules.MinOrderNotional) {
		return out, fmt.Errorf("%w: minimum order is %s", model.ErrBelowMinimumOrder, s.rules.MinOrderNotional.StringFixed(0))
	}

	quote, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return out, err
	}

	f := fill{
		userID:      in.UserID,
		symbol:      symbol,
		side:        side,
		kind:        model.TxMarket,
		price:       quote.Price,
		minNotional: s.rules.MinOrderNotional,
	}
	if byAmount {
		f.notional = in.Amount.Round(2)
		f.quantity = model.QuantityForAmount(in.Amount, quote.Price)
		if !f.quantity.IsPositive() {
			return out, fmt.Errorf("%w: amount buys no quantity at %s", model.ErrInvalidArgument, quote.Price.String())
		}
	} else {
		f.quantity = in.Quantity
		f.notional = model.Notional(quote.Price, in.Quantity)
	}
	f.fee = model.Fee(f.notional, s.rules.FeeRate)
	if side == model.SideBuy && f.notional.LessThan(s.rules.MinOrderNotional) {
		return out, fmt.Errorf("%w: minimum order is %s", model.ErrBelowMinimumOrder, s.rules.MinOrderNotional.StringFixed(0))
	}

	tradeID, l, err := s.execute(ctx, f)
	if err != nil {
		return out, err
	}
	out = TradeResult{
		TradeID:  tradeID,
		Symbol:   symbol,
		Side:     side,
		Quantity: f.quantity,
		Price:    f.price,
		Notional: f.notional,
		Fee:      f.fee,
		Cash:     l.Account.Cash,
	}
	if side == model.SideBuy {
		out.Message = "buy order filled"
	} else {
		out.Message = "sell order filled"
	}
	return out, nil
}

// execute applies f to the user's ledger and appends both transaction
// projections in the same commit.
func (s *Service) execute(ctx context.Context, f fill) (string, *model.Ledger, error) {
	tradeID := uuid.NewString()
	now := time.Now().UTC()
	l, err := s.ledger.Update(ctx, f.userID, func(l *model.Ledger) (ledger.Effects, error) {
		if l.Account.Status != model.AccountActive {
			return ledger.Effects{}, model.ErrAccountInactive
		}
		switch f.side {
		case model.SideBuy:
			if err := ledger.DebitForBuy(l, f.notional, f.fee); err != nil {
				return ledger.Effects{}, err
			}
			if err := ledger.ApplyHoldingDelta(l, f.symbol, f.quantity, f.price, model.SideBuy); err != nil {
				return ledger.Effects{}, err
			}
		case model.SideSell:
			held := l.Holdings[f.symbol].Quantity
			closing := held.Equal(f.quantity)
			if !closing && f.minNotional.IsPositive() && f.notional.LessThan(f.minNotional) {
				return ledger.Effects{}, fmt.Errorf("%w: minimum order is %s", model.ErrBelowMinimumOrder, f.minNotional.StringFixed(0))
			}
			if err := ledger.ApplyHoldingDelta(l, f.symbol, f.quantity.Neg(), f.price, model.SideSell); err != nil {
				return ledger.Effects{}, err
			}
			if err := ledger.CreditForSell(l, f.notional, f.fee); err != nil {
				return ledger.Effects{}, err
			}
		}

		eff := ledger.Effects{Transactions: projections(tradeID, f, now)}
		if f.order != nil {
			o := *f.order
			o.FilledPrice = f.price
			eff.FillOrder = &o
		}
		return eff, nil
	})
	if err != nil {
		return "", nil, err
	}
	s.log.Info("trade executed",
		"trade_id", tradeID,
		"user_id", f.userID,
		"symbol", f.symbol,
		"side", f.side,
		"kind", f.kind,
		"quantity", f.quantity.String(),
		"price", f.price.String(),
		"fee", f.fee.String(),
	)
	return tradeID, l, nil
}

// projections returns the season-scoped and the permanent record of one
// trade. They share a trade id and are always written together.
func projections(tradeID string, f fill, at time.Time) []model.Transaction {
	base := model.Transaction{
		TradeID:   tradeID,
		UserID:    f.userID,
		Symbol:    f.symbol,
		Side:      f.side,
		Kind:      f.kind,
		Quantity:  f.quantity,
		Price:     f.price,
		Fee:       f.fee,
		SeasonID:  model.UnstampedSeason,
		CreatedAt: at,
	}
	season, allTime := base, base
	season.ID, season.Scope = uuid.NewString(), model.ScopeSeason
	allTime.ID, allTime.Scope = uuid.NewString(), model.ScopeAllTime
	return []model.Transaction{season, allTime}
}

func (s *Service) PlaceLimitOrder(ctx context.Context, in LimitOrderInput) (*model.LimitOrder, error) {
	symbol, err := model.NormalizeSymbol(in.Symbol)
	if err != nil {
		return nil, err
	}
	side, err := model.ParseSide(string(in.Side))
	if err != nil {
		return nil, err
	}
	if !in.LimitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: limit price must be > 0", model.ErrInvalidArgument)
	}
	if !in.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be > 0", model.ErrInvalidArgument)
	}
	if side == model.SideBuy && model.Notional(in.LimitPrice, in.Quantity).LessThan(s.rules.MinOrderNotional) {
		return nil, fmt.Errorf("%w: minimum order is %s", model.ErrBelowMinimumOrder, s.rules.MinOrderNotional.StringFixed(0))
	}
	l, err := s.ledger.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if l.Account.Status != model.AccountActive {
		return nil, model.ErrAccountInactive
	}

	now := time.Now().UTC()
	o := &model.LimitOrder{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Symbol:     symbol,
		Side:       side,
		LimitPrice: in.LimitPrice,
		Quantity:   in.Quantity,
		Status:     model.OrderOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateLimitOrder(ctx, o); err != nil {
		return nil, err
	}
	s.log.Info("limit order placed", "order_id", o.ID, "user_id", o.UserID, "symbol", symbol, "side", side, "limit_price", o.LimitPrice.String())
	return o, nil
}

// CancelLimitOrder moves an open order of the user to cancelled. A fill that
// committed first wins; the cancel then fails with ErrAlreadyTerminal.
func (s *Service) CancelLimitOrder(ctx context.Context, userID, orderID string) (*model.LimitOrder, error) {
	o, err := s.store.GetLimitOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
		}
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: order is %s", model.ErrAlreadyTerminal, o.Status)
	}
	cancelled, err := s.store.CancelLimitOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotOpen) {
			return nil, model.ErrAlreadyTerminal
		}
		return nil, err
	}
	return cancelled, nil
}

func (s *Service) ListOpenOrders(ctx context.Context, userID string) ([]model.LimitOrder, error) {
	return s.store.ListLimitOrders(ctx, userID, model.OrderOpen)
}

// TransactionHistory lists the user's trades. seasonID 0 means the running
// season. allTime selects the permanent projection; with seasonID 0 it
// spans every season.
func (s *Service) TransactionHistory(ctx context.Context, userID string, seasonID int64, allTime bool) ([]model.Transaction, error) {
	if seasonID < 0 {
		return nil, fmt.Errorf("%w: season must be >= 0", model.ErrInvalidArgument)
	}
	cur, err := s.store.GetSeason(ctx)
	if err != nil {
		return nil, err
	}
	if seasonID > cur.CurrentID {
		return nil, fmt.Errorf("%w: season %d", model.ErrNotFound, seasonID)
	}

	f := store.TxFilter{UserID: userID, Scope: model.ScopeSeason, Limit: 500}
	switch {
	case seasonID == 0 && allTime:
		f.SeasonID = store.AllSeasons
	case seasonID == 0 || seasonID == cur.CurrentID:
		f.SeasonID = model.UnstampedSeason
	default:
		f.SeasonID = seasonID
	}
	if allTime {
		f.Scope = model.ScopeAllTime
	}
	return s.store.ListTransactions(ctx, f)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, model.ErrBelowMinimumOrder):
		return "below_minimum"
	case errors.Is(err, model.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, model.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
