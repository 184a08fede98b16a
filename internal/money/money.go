package money

import (
	"database/sql/driver"
	"time"

	"github.com/shopspring/decimal"

	"utilibill/internal/fault"
)

// Money is a fixed-point monetary amount, always held at two decimal
// places. Intermediate rate arithmetic stays in decimal form and is
// rounded exactly once at the boundary into Money.
type Money struct {
	amount decimal.Decimal
}

// Zero is the zero amount.
func Zero() Money { return Money{amount: decimal.Zero} }

// FromDecimal rounds a decimal amount half-up to two places.
func FromDecimal(d decimal.Decimal) Money {
	return Money{amount: RoundHalfUp(d)}
}

// FromPence builds an amount from an integral number of pence.
func FromPence(pence int64) Money {
	return Money{amount: decimal.New(pence, -2)}
}

// FromPounds builds an amount from a float pounds value. Intended for
// configuration and test fixtures, not for chained arithmetic.
func FromPounds(pounds float64) Money {
	return FromDecimal(decimal.NewFromFloat(pounds))
}

// RoundHalfUp rounds a decimal to two places, half away from zero.
// For the non-negative amounts the engine produces this is half-up.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{amount: m.amount.Add(other.amount)}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{amount: m.amount.Sub(other.amount)}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg()}
}

// MulInt returns m * n, exact at two places.
func (m Money) MulInt(n int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(n))}
}

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// Equal reports exact equality.
func (m Money) Equal(other Money) bool { return m.amount.Equal(other.amount) }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool { return m.amount.LessThan(other.amount) }

// String renders the amount with two decimal places.
func (m Money) String() string { return m.amount.StringFixed(2) }

// MarshalJSON renders the amount as a quoted fixed-point string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.amount.StringFixed(2) + `"`), nil
}

// UnmarshalJSON parses a quoted or bare fixed-point string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.amount = RoundHalfUp(d)
	return nil
}

// Scan implements sql.Scanner for numeric columns.
func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	m.amount = RoundHalfUp(d)
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.amount.StringFixed(2), nil
}

// BillingDays counts the days in an inclusive billing period.
// Both boundaries count: 1 Jan through 31 Jan is 31 days.
func BillingDays(periodStart, periodEnd time.Time) (int, error) {
	if periodStart.IsZero() || periodEnd.IsZero() {
		return 0, fault.New(fault.KindInvalidBillingPeriod, "billing period boundary is zero")
	}
	start := truncateDay(periodStart)
	end := truncateDay(periodEnd)
	if start.After(end) {
		return 0, fault.New(fault.KindInvalidBillingPeriod, "period start is after period end")
	}
	return int(end.Sub(start).Hours()/24) + 1, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
