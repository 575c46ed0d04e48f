package model

import "github.com/shopspring/decimal"

const (
	priceScale    = 8
	quantityScale = 8
	cashScale     = 2
)

var hundred = decimal.NewFromInt(100)

func Notional(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Round(cashScale)
}

func Fee(notional, rate decimal.Decimal) decimal.Decimal {
	return notional.Mul(rate).Round(cashScale)
}

// QuantityForAmount converts a currency amount into a fractional quantity.
func QuantityForAmount(amount, price decimal.Decimal) decimal.Decimal {
	return amount.DivRound(price, quantityScale)
}

// WeightedAverage recomputes the average buy price after buying addQty at price.
func WeightedAverage(oldAvg, oldQty, price, addQty decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(addQty)
	if !total.IsPositive() {
		return price
	}
	return oldAvg.Mul(oldQty).Add(price.Mul(addQty)).DivRound(total, priceScale)
}

// ProfitRate is (value-base)/base expressed in percent.
func ProfitRate(value, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return value.Sub(base).Mul(hundred).DivRound(base, 6)
}
