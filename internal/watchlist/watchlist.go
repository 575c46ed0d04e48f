// Package watchlist keeps per-user favorite symbols and prices them on read.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/store"
)

const maxNameLen = 80

type Entry struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	AddedAt       time.Time       `json:"added_at"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Resolved      bool            `json:"resolved"`
}

// Watchlist is best-effort like a portfolio view: entries whose quote
// failed are listed with Resolved unset and Partial is raised.
type Watchlist struct {
	Entries  []Entry   `json:"entries"`
	Partial  bool      `json:"partial"`
	PricedAt time.Time `json:"priced_at"`
}

type Service struct {
	store       store.Store
	quotes      oracle.Quoter
	parallelism int
	log         *slog.Logger
}

func NewService(st store.Store, quotes oracle.Quoter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, quotes: quotes, parallelism: 8, log: logger}
}

// Add lists symbol for the user. Adding it again only updates the name. An
// empty name falls back to the symbol.
func (s *Service) Add(ctx context.Context, userID, symbol, name string) (model.Favorite, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return model.Favorite{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = sym
	}
	if len(name) > maxNameLen {
		return model.Favorite{}, fmt.Errorf("%w: name is longer than %d bytes", model.ErrInvalidArgument, maxNameLen)
	}
	f := model.Favorite{UserID: userID, Symbol: sym, Name: name, AddedAt: time.Now().UTC()}
	if err := s.store.PutFavorite(ctx, f); err != nil {
		return model.Favorite{}, err
	}
	s.log.Info("watchlist symbol added", "user_id", userID, "symbol", sym)
	return f, nil
}

func (s *Service) Remove(ctx context.Context, userID, symbol string) error {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFavorite(ctx, userID, sym); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s is not on the watchlist", model.ErrNotFound, sym)
		}
		return err
	}
	s.log.Info("watchlist symbol removed", "user_id", userID, "symbol", sym)
	return nil
}

// List returns the user's symbols oldest first, each with a fresh quote.
func (s *Service) List(ctx context.Context, userID string) (Watchlist, error) {
	favs, err := s.store.ListFavorites(ctx, userID)
	if err != nil {
		return Watchlist{}, err
	}
	entries := make([]Entry, len(favs))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, f := range favs {
		entries[i] = Entry{Symbol: f.Symbol, Name: f.Name, AddedAt: f.AddedAt}
		g.Go(func() error {
			q, err := s.quotes.GetQuote(ctx, f.Symbol)
			if err != nil {
				s.log.Debug("watchlist quote unavailable", "user_id", userID, "symbol", f.Symbol, "err", err)
				return nil
			}
			entries[i].Price = q.Price
			entries[i].ChangePercent = q.ChangePercent
			entries[i].Resolved = true
			return nil
		})
	}
	_ = g.Wait()

	w := Watchlist{Entries: entries, PricedAt: time.Now().UTC()}
	for _, e := range entries {
		if !e.Resolved {
			w.Partial = true
			break
		}
	}
	return w, nil
}
