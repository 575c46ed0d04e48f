// Package oracle turns external quote providers into home-currency prices.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/metrics"
	"stocksim/internal/model"
)

const HomeCurrency = "KRW"

type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Currency      string          `json:"currency"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Provider is a raw quote source. Prices are in the instrument's listing
// currency.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// Quoter yields home-currency quotes. *Oracle and *Memo implement it.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// QuoteError classifies a provider failure.
type QuoteError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol"
	Symbol  string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol string) *QuoteError {
	return &QuoteError{Type: "rate_limit", Symbol: symbol, Message: "provider rate limit exceeded"}
}

func NewProviderError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *QuoteError {
	return &QuoteError{Type: "bad_symbol", Symbol: symbol, Message: message}
}

// Oracle applies the fixed exchange rate to foreign instruments. Every
// failure it returns wraps model.ErrQuoteUnavailable.
type Oracle struct {
	provider Provider
	fxRate   decimal.Decimal
	rules    model.Rules
}

func New(provider Provider, rules model.Rules) *Oracle {
	return &Oracle{provider: provider, fxRate: rules.USDToKRW, rules: rules}
}

func (o *Oracle) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}
	q, err := o.provider.GetQuote(ctx, symbol)
	if err != nil {
		metrics.QuoteFailures.WithLabelValues(failureType(err)).Inc()
		return Quote{}, fmt.Errorf("%w: %w", model.ErrQuoteUnavailable, err)
	}
	if !q.Price.IsPositive() {
		metrics.QuoteFailures.WithLabelValues("bad_price").Inc()
		return Quote{}, fmt.Errorf("%w: %s has no positive price", model.ErrQuoteUnavailable, symbol)
	}
	if !o.rules.IsDomestic(symbol) {
		q.Price = q.Price.Mul(o.fxRate)
	}
	q.Symbol = symbol
	q.Currency = HomeCurrency
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}
	return q, nil
}

func failureType(err error) string {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Type
	}
	return "other"
}
