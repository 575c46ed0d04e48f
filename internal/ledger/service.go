package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/store"
)

// ErrTxConflict is returned when a ledger stays contended through every retry.
var ErrTxConflict = errors.New("ledger: too many concurrent updates, try again")

// ErrUnchanged may be returned by a Mutation to end Update without a write.
var ErrUnchanged = errors.New("ledger: unchanged")

// Effects are written in the same atomic unit as the ledger.
type Effects struct {
	Transactions []model.Transaction
	FillOrder    *model.LimitOrder
}

// Mutation edits a private copy of the ledger. It may run more than once.
type Mutation func(l *model.Ledger) (Effects, error)

type Service struct {
	store store.Store
	rules model.Rules
	log   *slog.Logger
}

func NewService(st store.Store, rules model.Rules, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, rules: rules, log: logger}
}

func (s *Service) Rules() model.Rules { return s.rules }

func (s *Service) Get(ctx context.Context, userID string) (*model.Ledger, error) {
	l, err := s.store.GetLedger(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return l, nil
}

// Update runs read → fn → conditional commit, re-reading and re-running fn
// whenever a concurrent commit for the same user wins.
func (s *Service) Update(ctx context.Context, userID string, fn Mutation) (*model.Ledger, error) {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.store.GetLedger(ctx, userID)
		if err != nil {
			return nil, mapStoreError(err)
		}
		next := cur.Clone()
		eff, err := fn(next)
		if errors.Is(err, ErrUnchanged) {
			return cur, nil
		}
		if err != nil {
			return nil, err
		}

		err = s.store.CommitLedger(ctx, store.Commit{
			Ledger:       next,
			Transactions: eff.Transactions,
			FillOrder:    eff.FillOrder,
		})
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, mapStoreError(err)
		}
		metrics.LedgerConflicts.Inc()
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return nil, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	s.log.Warn("ledger update exhausted retries", "user_id", userID)
	return nil, ErrTxConflict
}

// EnsureAccount creates a pending, unfunded account on first sight of a user.
func (s *Service) EnsureAccount(ctx context.Context, userID, nickname, group string) (*model.Ledger, error) {
	l, err := s.store.GetLedger(ctx, userID)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	l = &model.Ledger{
		Account: model.Account{
			UserID:    userID,
			Nickname:  nickname,
			Group:     group,
			Status:    model.AccountPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Holdings: make(map[string]model.Holding),
	}
	if err := s.store.CreateLedger(ctx, l); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// ActivateAccount grants the initial capital once, on the first activation
// of a verified user. Activating an active account is a no-op.
func (s *Service) ActivateAccount(ctx context.Context, id model.Identity, nickname, group string) (*model.Ledger, error) {
	if !id.EmailVerified {
		return nil, model.ErrEmailNotVerified
	}
	if _, err := s.EnsureAccount(ctx, id.UserID, nickname, group); err != nil {
		return nil, err
	}
	l, err := s.Update(ctx, id.UserID, func(l *model.Ledger) (Effects, error) {
		switch l.Account.Status {
		case model.AccountActive:
			return Effects{}, ErrUnchanged
		case model.AccountSuspended:
			return Effects{}, model.ErrAccountInactive
		}
		// Login may have created the record without a group.
		if nickname != "" {
			l.Account.Nickname = nickname
		}
		if group != "" {
			l.Account.Group = group
		}
		l.Account.Status = model.AccountActive
		l.Account.Cash = s.rules.InitialCapital
		return Effects{}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account activated", "user_id", id.UserID, "status", l.Account.Status)
	return l, nil
}

// CreditReward adds amount to an active user's cash.
func (s *Service) CreditReward(ctx context.Context, userID string, amount decimal.Decimal) (*model.Ledger, error) {
	return s.Update(ctx, userID, func(l *model.Ledger) (Effects, error) {
		if l.Account.Status != model.AccountActive {
			return Effects{}, model.ErrAccountInactive
		}
		return Effects{}, Credit(l, amount)
	})
}

// ResetForNewSeason restores the start-of-season state unless the ledger
// already holds it, which makes a re-run after a crash skip finished users.
// Accounts that were never activated keep their (empty) balance. It reports
// whether a write happened.
//
// before runs on every attempt ahead of the conditional write. A commit that
// lands while it runs moves the ledger version, so the write conflicts and
// the next attempt calls before again and sees that commit.
func (s *Service) ResetForNewSeason(ctx context.Context, userID string, before func(context.Context) error) (bool, error) {
	var reset bool
	_, err := s.Update(ctx, userID, func(l *model.Ledger) (Effects, error) {
		reset = false
		if before != nil {
			if err := before(ctx); err != nil {
				return Effects{}, err
			}
		}
		target := s.rules.InitialCapital
		if l.Account.Status != model.AccountActive {
			target = l.Account.Cash
		}
		if l.IsReset(target) {
			return Effects{}, ErrUnchanged
		}
		Reset(l, target)
		reset = true
		return Effects{}, nil
	})
	return reset, err
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
