// Package money holds exact minor-unit amounts. Arithmetic never touches
// floating point; decimal strings are parsed with shopspring/decimal.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("money: invalid amount")
	ErrPrecision     = errors.New("money: more than two decimal places")
	ErrOverflow      = errors.New("money: amount out of range")
)

var hundred = decimal.NewFromInt(100)

// Amount is a quantity of the clinic currency in cents.
type Amount int64

func Cents(c int64) Amount { return Amount(c) }

// FromMajor builds an Amount from whole currency units.
func FromMajor(units int64) Amount { return Amount(units * 100) }

func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

func FromDecimal(d decimal.Decimal) (Amount, error) {
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || cents.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrOverflow
	}
	return Amount(cents.IntPart()), nil
}

func (a Amount) Cents() int64 { return int64(a) }

func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a)).Div(hundred)
}

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Mul multiplies by an integer quantity.
func (a Amount) Mul(n int) (Amount, error) {
	if n == 0 || a == 0 {
		return 0, nil
	}
	r := int64(a) * int64(n)
	if r/int64(n) != int64(a) {
		return 0, ErrOverflow
	}
	return Amount(r), nil
}

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Sum adds all amounts, reporting overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MarshalJSON writes the amount as a fixed two-place decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON string ("200.50") or number (200.5).
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
