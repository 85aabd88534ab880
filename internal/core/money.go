// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents so the fund balance always equals the
// exact sum of its transactions. Decimal strings from users and floating point
// numbers from persisted blobs are converted once, at the boundary.
package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is the display currency of every fund.
const Currency = money.EUR

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount converts user input to a positive Money value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234 cents
//	ParseAmount("12,34")  -> 1234 cents
//	ParseAmount("12.345") -> 1235 cents (rounds up)
//	ParseAmount("12.344") -> 1234 cents (rounds down)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, &ValidationError{Field: "amount", Reason: "must not be empty"}
	}
	s = strings.ReplaceAll(s, ",", ".")
	// decimal.NewFromString also accepts signs and exponents; users don't get those.
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a valid amount", s)}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a valid amount", s)}
	}
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) {
		return Money{}, &ValidationError{Field: "amount", Reason: "too large"}
	}
	m := Money{Cents: cents.IntPart()}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Cents builds a Money value from minor units.
func Cents(c int64) Money {
	return Money{Cents: c}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}

func (m Money) Add(n Money) Money { return Money{Cents: m.Cents + n.Cents} }
func (m Money) Sub(n Money) Money { return Money{Cents: m.Cents - n.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Fixed returns the amount with exactly two decimals, e.g. "50.00".
func (m Money) Fixed() string {
	return m.Decimal().StringFixed(2)
}

// String formats the amount for display in the fund currency.
func (m Money) String() string {
	return money.New(m.Cents, Currency).Display()
}

// MarshalJSON writes a JSON number with two decimals, matching the blob schema.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Fixed()), nil
}

// UnmarshalJSON accepts any JSON number that fits in int64 cents. Blobs written
// by float-based clients may carry drift like 30.000000000000004; it is rounded
// to the nearest cent.
func (m *Money) UnmarshalJSON(data []byte) error {
	d, err := decimal.NewFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse amount %s: %w", data, err)
	}
	cents := d.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return fmt.Errorf("parse amount %s: out of range", data)
	}
	m.Cents = cents.IntPart()
	return nil
}
