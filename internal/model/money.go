package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the amount with two decimals, e.g. "45.00".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Format renders the amount for customers, e.g. "$45.00".
func (c Cents) Format() string {
	if c < 0 {
		return "-$" + (-c).String()
	}
	return "$" + c.String()
}

// CentsFromDecimal rounds half-up to the nearest cent.
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).Round(0).IntPart())
}

// ParseCents parses a decimal string such as "50.00" or "12.5".
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return CentsFromDecimal(d), nil
}

func MinCents(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}
