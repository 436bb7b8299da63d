// Package core provides money parsing and handling utilities.
//
// Amounts are carried as signed integer cents. Parsing goes through
// shopspring/decimal and rejects anything finer than a cent.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const centsScale = 2

var hundred = decimal.NewFromInt(100)

// Money is an amount in cents. Balances may be negative, transaction
// amounts never are.
type Money struct {
	Cents int64
}

// Cents builds a Money value.
func Cents(c int64) Money { return Money{Cents: c} }

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }
func (m Money) IsPositive() bool  { return m.Cents > 0 }
func (m Money) IsNegative() bool  { return m.Cents < 0 }

// Less reports m < o.
func (m Money) Less(o Money) bool { return m.Cents < o.Cents }

// Decimal returns the exact decimal value in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -centsScale)
}

// String formats the amount with two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(centsScale)
}

// Validate checks that m is a usable transaction amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return NewError(KindInvalidAmount, "amount", "amount must be greater than zero")
	}
	return nil
}

// MoneyFromDecimal converts d to cents, rejecting values with more than two
// fractional digits.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred)
	if !cents.IsInteger() {
		return Money{}, NewError(KindInvalidAmount, "amount", "amount has more than two fractional digits")
	}
	return Money{Cents: cents.IntPart()}, nil
}

// ParseMoney parses a signed decimal string such as "-5000" or "12.30".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, NewError(KindInvalidAmount, "amount", "not a decimal number")
	}
	return MoneyFromDecimal(d)
}

// ParseAmount parses a strictly positive transaction amount with at most two
// fractional digits.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234, nil
//	ParseAmount("12.345") -> InvalidAmount
//	ParseAmount("0")      -> InvalidAmount
func ParseAmount(s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}, err
	}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}
