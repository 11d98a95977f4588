package payout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer is a completed payout record
type Transfer struct {
	ID        string          `json:"id"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// Bank is an in-memory payout rail: it credits recipient accounts and keeps
// one transfer per reference
type Bank struct {
	mu          sync.RWMutex
	accounts    map[string]decimal.Decimal // recipient -> balance received
	transfers   []Transfer
	byReference map[string]string // reference -> transfer ID
	failWith    error
}

func NewBank() *Bank {
	return &Bank{
		accounts:    make(map[string]decimal.Decimal),
		byReference: make(map[string]string),
	}
}

// Release credits the recipient. A reference seen before returns the
// original transfer ID without paying again.
func (b *Bank) Release(ctx context.Context, to string, amount decimal.Decimal, reference string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failWith != nil {
		return "", b.failWith
	}
	if reference != "" {
		if id, ok := b.byReference[reference]; ok {
			return id, nil
		}
	}

	tr := Transfer{
		ID:        uuid.New().String(),
		To:        to,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	b.accounts[to] = b.accounts[to].Add(amount)
	b.transfers = append(b.transfers, tr)
	if reference != "" {
		b.byReference[reference] = tr.ID
	}
	return tr.ID, nil
}

// Balance returns everything paid out to an account
func (b *Bank) Balance(account string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accounts[account]
}

// Transfers returns the payout history, oldest first
func (b *Bank) Transfers() []Transfer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Transfer(nil), b.transfers...)
}

// FailWith makes every following Release return err; nil restores service
func (b *Bank) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}
