package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/model"
	"stocksim/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(cash string) *model.Ledger {
	return &model.Ledger{
		Account:  model.Account{UserID: "u1", Status: model.AccountActive, Cash: d(cash)},
		Holdings: make(map[string]model.Holding),
	}
}

func newActiveService(t *testing.T, userIDs ...string) (*Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := NewService(ms, model.DefaultRules(), nil)
	for _, id := range userIDs {
		_, err := svc.ActivateAccount(context.Background(), model.Identity{UserID: id, EmailVerified: true}, id, "school-a")
		require.NoError(t, err)
	}
	return svc, ms
}

func TestDebitForBuyRejectsOverdraft(t *testing.T) {
	l := newLedger("100")
	require.NoError(t, DebitForBuy(l, d("90"), d("10")))
	assert.True(t, l.Account.Cash.IsZero())

	err := DebitForBuy(l, d("0.01"), decimal.Zero)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)
	require.ErrorIs(t, err, model.ErrFailedPrecondition)
	assert.True(t, l.Account.Cash.IsZero())
}

func TestApplyHoldingDeltaWeightedAverage(t *testing.T) {
	l := newLedger("0")
	require.NoError(t, ApplyHoldingDelta(l, "AAA", d("10"), d("100"), model.SideBuy))
	require.NoError(t, ApplyHoldingDelta(l, "AAA", d("30"), d("200"), model.SideBuy))

	h := l.Holdings["AAA"]
	assert.True(t, h.Quantity.Equal(d("40")))
	// (10*100 + 30*200) / 40
	assert.True(t, h.AvgBuyPrice.Equal(d("175")), h.AvgBuyPrice.String())

	require.NoError(t, ApplyHoldingDelta(l, "AAA", d("15"), d("500"), model.SideSell))
	h = l.Holdings["AAA"]
	assert.True(t, h.Quantity.Equal(d("25")))
	assert.True(t, h.AvgBuyPrice.Equal(d("175")), "sells must not move the average")
}

func TestApplyHoldingDeltaSellRules(t *testing.T) {
	l := newLedger("0")
	err := ApplyHoldingDelta(l, "AAA", d("1"), d("10"), model.SideSell)
	require.ErrorIs(t, err, model.ErrInsufficientHoldings)

	require.NoError(t, ApplyHoldingDelta(l, "AAA", d("2"), d("10"), model.SideBuy))
	err = ApplyHoldingDelta(l, "AAA", d("2.5"), d("10"), model.SideSell)
	require.ErrorIs(t, err, model.ErrInsufficientHoldings)

	// Leaving only dust removes the holding.
	require.NoError(t, ApplyHoldingDelta(l, "AAA", d("1.999995"), d("10"), model.SideSell))
	_, ok := l.Holdings["AAA"]
	assert.False(t, ok)
}

func TestCreditForSellAndCredit(t *testing.T) {
	l := newLedger("10")
	require.NoError(t, CreditForSell(l, d("100"), d("0.25")))
	assert.True(t, l.Account.Cash.Equal(d("109.75")))
	require.Error(t, CreditForSell(l, d("1"), d("2")))
	require.Error(t, Credit(l, decimal.Zero))
	require.NoError(t, Credit(l, d("5")))
	assert.True(t, l.Account.Cash.Equal(d("114.75")))
}

func TestActivateAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, model.DefaultRules(), nil)
	ctx := context.Background()

	_, err := svc.ActivateAccount(ctx, model.Identity{UserID: "u1"}, "neo", "school-a")
	require.ErrorIs(t, err, model.ErrEmailNotVerified)

	l, err := svc.ActivateAccount(ctx, model.Identity{UserID: "u1", EmailVerified: true}, "neo", "school-a")
	require.NoError(t, err)
	assert.Equal(t, model.AccountActive, l.Account.Status)
	assert.True(t, l.Account.Cash.Equal(d("10000000")))

	// Spend some, then activate again: capital is not granted twice.
	_, err = svc.Update(ctx, "u1", func(l *model.Ledger) (Effects, error) {
		return Effects{}, DebitForBuy(l, d("1000"), decimal.Zero)
	})
	require.NoError(t, err)
	l, err = svc.ActivateAccount(ctx, model.Identity{UserID: "u1", EmailVerified: true}, "neo", "school-a")
	require.NoError(t, err)
	assert.True(t, l.Account.Cash.Equal(d("9999000")))
}

func TestConcurrentBuysOnlyOneSucceeds(t *testing.T) {
	svc, _ := newActiveService(t, "u1")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, "u1", func(l *model.Ledger) (Effects, error) {
				if err := DebitForBuy(l, d("6000000"), d("15000")); err != nil {
					return Effects{}, err
				}
				return Effects{}, ApplyHoldingDelta(l, "AAA.KS", d("60000"), d("100"), model.SideBuy)
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, model.ErrInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	l, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, l.Account.Cash.Equal(d("3985000")), l.Account.Cash.String())
	assert.True(t, l.Holdings["AAA.KS"].Quantity.Equal(d("60000")))
}

func TestResetForNewSeasonIsIdempotent(t *testing.T) {
	svc, _ := newActiveService(t, "u1")
	ctx := context.Background()

	_, err := svc.Update(ctx, "u1", func(l *model.Ledger) (Effects, error) {
		l.Account.QuizTries = 2
		if err := DebitForBuy(l, d("500"), decimal.Zero); err != nil {
			return Effects{}, err
		}
		return Effects{}, ApplyHoldingDelta(l, "AAA.KS", d("5"), d("100"), model.SideBuy)
	})
	require.NoError(t, err)

	reset, err := svc.ResetForNewSeason(ctx, "u1", nil)
	require.NoError(t, err)
	assert.True(t, reset)

	l, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, l.IsReset(d("10000000")))
	version := l.Account.Version

	reset, err = svc.ResetForNewSeason(ctx, "u1", nil)
	require.NoError(t, err)
	assert.False(t, reset)
	l, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, version, l.Account.Version)
}

func TestActivateAccountAfterLoginSetsGroup(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, model.DefaultRules(), nil)
	ctx := context.Background()

	// Login creates the record before the user picks a group.
	_, err := svc.EnsureAccount(ctx, "u1", "neo", "")
	require.NoError(t, err)

	l, err := svc.ActivateAccount(ctx, model.Identity{UserID: "u1", EmailVerified: true}, "trinity", "school-a")
	require.NoError(t, err)
	assert.Equal(t, "school-a", l.Account.Group)
	assert.Equal(t, "trinity", l.Account.Nickname)

	stored, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "school-a", stored.Account.Group)

	// Empty inputs keep what is already there.
	_, err = svc.EnsureAccount(ctx, "u2", "morpheus", "school-b")
	require.NoError(t, err)
	l, err = svc.ActivateAccount(ctx, model.Identity{UserID: "u2", EmailVerified: true}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "school-b", l.Account.Group)
	assert.Equal(t, "morpheus", l.Account.Nickname)
}

func TestResetForNewSeasonRerunsHookAfterConcurrentCommit(t *testing.T) {
	svc, _ := newActiveService(t, "u1")
	ctx := context.Background()

	_, err := svc.Update(ctx, "u1", func(l *model.Ledger) (Effects, error) {
		return Effects{}, DebitForBuy(l, d("500"), decimal.Zero)
	})
	require.NoError(t, err)

	calls := 0
	reset, err := svc.ResetForNewSeason(ctx, "u1", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			// A trade commits between the read and the reset write.
			_, err := svc.Update(ctx, "u1", func(l *model.Ledger) (Effects, error) {
				return Effects{}, DebitForBuy(l, d("100"), decimal.Zero)
			})
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, 2, calls)

	l, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, l.IsReset(d("10000000")), l.Account.Cash.String())
}

func TestCreditRewardRequiresActiveAccount(t *testing.T) {
	svc, _ := newActiveService(t, "u1")
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "pending", "p", "")
	require.NoError(t, err)

	_, err = svc.CreditReward(ctx, "pending", d("100"))
	require.ErrorIs(t, err, model.ErrAccountInactive)

	l, err := svc.CreditReward(ctx, "u1", d("100"))
	require.NoError(t, err)
	assert.True(t, l.Account.Cash.Equal(d("10000100")))

	_, err = svc.CreditReward(ctx, "ghost", d("100"))
	require.ErrorIs(t, err, model.ErrNotFound)
}
