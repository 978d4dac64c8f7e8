package core

import "github.com/shopspring/decimal"

// ValidatePrice rejects observations the engine must drop rather than apply.
func ValidatePrice(price decimal.Decimal) error {
	if price.Cmp(decimal.Zero) <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// RoundPrice snaps a price to the instrument tick. A zero tick leaves the
// price untouched.
func (r Rules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return RoundDown(price, r.PriceTick)
}

func (r Rules) RoundQty(qty decimal.Decimal) decimal.Decimal {
	return RoundDown(qty, r.QtyStep)
}
