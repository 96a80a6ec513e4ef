package shared

import "github.com/shopspring/decimal"

// Round2 rounds half away from zero to two decimal places, which is half-up for
// the non-negative amounts handled here.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// SafeDiv divides num by den and yields zero when den is zero.
func SafeDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// Average returns num/den rounded to two places, zero for an empty denominator.
func Average(num decimal.Decimal, den int64) decimal.Decimal {
	return Round2(SafeDiv(num, decimal.NewFromInt(den)))
}

// MaxZero clamps negative values to zero.
func MaxZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
