package oracle

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memo remembers quotes, failures included, for the lifetime of one batch
// pass. Concurrent lookups of the same symbol share a single upstream call.
type Memo struct {
	next  Quoter
	group singleflight.Group

	mu   sync.Mutex
	seen map[string]memoEntry
}

type memoEntry struct {
	quote Quote
	err   error
}

func NewMemo(next Quoter) *Memo {
	return &Memo{next: next, seen: make(map[string]memoEntry)}
}

func (m *Memo) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	e, ok := m.seen[symbol]
	m.mu.Unlock()
	if ok {
		return e.quote, e.err
	}

	v, _, _ := m.group.Do(symbol, func() (any, error) {
		m.mu.Lock()
		e, ok := m.seen[symbol]
		m.mu.Unlock()
		if ok {
			return e, nil
		}
		q, err := m.next.GetQuote(ctx, symbol)
		e = memoEntry{quote: q, err: err}
		m.mu.Lock()
		m.seen[symbol] = e
		m.mu.Unlock()
		return e, nil
	})
	e = v.(memoEntry)
	return e.quote, e.err
}
