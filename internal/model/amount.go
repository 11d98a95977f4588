package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("amount must be a non-negative integer in the smallest currency unit")

// ParseAmount parses a wire amount. Amounts are integers of arbitrary size
// (wei-style units overflow uint64), so they travel as decimal strings.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount validates an already parsed amount
func CheckAmount(d decimal.Decimal) error {
	if d.IsNegative() || !d.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}
