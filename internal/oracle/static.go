package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticProvider serves prices from memory. Tests and local runs set prices
// directly; a symbol with no price fails like an unknown ticker.
type StaticProvider struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

func (p *StaticProvider) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
	delete(p.errs, symbol)
}

// SetError makes every quote for symbol fail with err until SetPrice is called.
func (p *StaticProvider) SetError(symbol string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[symbol] = err
}

func (p *StaticProvider) GetQuote(_ context.Context, symbol string) (Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err, ok := p.errs[symbol]; ok {
		return Quote{}, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return Quote{}, NewBadSymbolError(symbol, "no static price")
	}
	return Quote{Symbol: symbol, Price: price, FetchedAt: time.Now().UTC()}, nil
}
