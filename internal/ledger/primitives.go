// Package ledger owns every mutation of a user's cash and holdings. The
// primitives below check invariants on an in-memory copy; Service.Update
// commits the copy conditionally.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stocksim/internal/model"
)

// DebitForBuy removes amount+fee from cash.
func DebitForBuy(l *model.Ledger, amount, fee decimal.Decimal) error {
	if amount.IsNegative() || fee.IsNegative() {
		return fmt.Errorf("%w: negative debit", model.ErrInvalidArgument)
	}
	next := l.Account.Cash.Sub(amount).Sub(fee)
	if next.IsNegative() {
		return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, amount.Add(fee).StringFixed(2), l.Account.Cash.StringFixed(2))
	}
	l.Account.Cash = next
	return nil
}

// CreditForSell adds amount-fee to cash.
func CreditForSell(l *model.Ledger, amount, fee decimal.Decimal) error {
	if amount.IsNegative() || fee.IsNegative() || fee.GreaterThan(amount) {
		return fmt.Errorf("%w: invalid sell proceeds", model.ErrInvalidArgument)
	}
	l.Account.Cash = l.Account.Cash.Add(amount).Sub(fee)
	return nil
}

// Credit adds a reward to cash.
func Credit(l *model.Ledger, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit must be > 0", model.ErrInvalidArgument)
	}
	l.Account.Cash = l.Account.Cash.Add(amount)
	return nil
}

// ApplyHoldingDelta moves a position by qtyDelta. Buys recompute the
// weighted average; sells leave it untouched and drop the holding once the
// remainder is dust.
func ApplyHoldingDelta(l *model.Ledger, symbol string, qtyDelta, tradePrice decimal.Decimal, side model.Side) error {
	h, held := l.Holdings[symbol]
	switch side {
	case model.SideBuy:
		if !qtyDelta.IsPositive() {
			return fmt.Errorf("%w: buy quantity must be > 0", model.ErrInvalidArgument)
		}
		if !held {
			h = model.Holding{Symbol: symbol}
		}
		h.AvgBuyPrice = model.WeightedAverage(h.AvgBuyPrice, h.Quantity, tradePrice, qtyDelta)
		h.Quantity = h.Quantity.Add(qtyDelta)
	case model.SideSell:
		sold := qtyDelta.Abs()
		if !sold.IsPositive() {
			return fmt.Errorf("%w: sell quantity must be > 0", model.ErrInvalidArgument)
		}
		if !held || h.Quantity.LessThan(sold) {
			have := decimal.Zero
			if held {
				have = h.Quantity
			}
			return fmt.Errorf("%w: %s holds %s, selling %s", model.ErrInsufficientHoldings, symbol, have.String(), sold.String())
		}
		h.Quantity = h.Quantity.Sub(sold)
	default:
		return model.ErrInvalidSide
	}

	if h.Quantity.LessThanOrEqual(model.DustQuantity) {
		delete(l.Holdings, symbol)
		return nil
	}
	l.Holdings[symbol] = h
	return nil
}

// Reset restores the start-of-season state.
func Reset(l *model.Ledger, initialCapital decimal.Decimal) {
	l.Account.Cash = initialCapital
	l.Account.QuizTries = 0
	l.Holdings = make(map[string]model.Holding)
}
