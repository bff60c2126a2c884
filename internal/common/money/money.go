package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	NGN Currency = "NGN"
)

type currencyInfo struct {
	minorUnits int32
	symbol     string
}

var currencies = map[Currency]currencyInfo{
	NGN: {minorUnits: 2, symbol: "₦"},
}

var (
	hundred = decimal.NewFromInt(100)

	ErrNegative  = errors.New("amount must not be negative")
	ErrPrecision = errors.New("amount has more than two decimal places")
)

// Round rounds an amount half away from zero to kobo precision.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(currencies[NGN].minorUnits)
}

// Percentage returns pct percent of amount, rounded to kobo.
func Percentage(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Parse parses a non-negative naira amount or percentage such as "1000"
// or "97.50". At most two decimal places are accepted.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegative
	}
	if !d.Equal(Round(d)) {
		return decimal.Zero, ErrPrecision
	}
	return d, nil
}

// Format renders an amount for customer-facing text, e.g. "₦1,010.00".
func Format(amount decimal.Decimal) string {
	info := currencies[NGN]
	s := Round(amount).StringFixed(info.minorUnits)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	return sign + info.symbol + b.String() + "." + frac
}
