package payout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrRejected      = errors.New("payout rejected")
	ErrInvalidAmount = errors.New("invalid payout amount")
)

// Payer sends value out of marketplace escrow. Reference identifies the
// withdrawal so a retried call is not paid twice.
type Payer interface {
	Release(ctx context.Context, to string, amount decimal.Decimal, reference string) (string, error)
}
