package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
)

// credit adds amount to the seller's balance and records the entry. It runs
// inside the caller's transaction and makes no external call.
func (s *Service) credit(ctx context.Context, tx store.Tx, seller string, amount decimal.Decimal, referenceID, counterparty string) error {
	p, err := tx.GetProceeds(ctx, seller)
	if err != nil {
		return fmt.Errorf("get proceeds: %w", err)
	}

	now := s.now()
	p.Seller = seller
	p.Balance = p.Balance.Add(amount)
	p.UpdatedAt = now
	if err := tx.PutProceeds(ctx, p); err != nil {
		return fmt.Errorf("put proceeds: %w", err)
	}

	return tx.AppendEntry(ctx, model.LedgerEntry{
		ID:            newEntryID(),
		Seller:        seller,
		EntryType:     model.EntryTypeCredit,
		Amount:        amount,
		BalanceAfter:  p.Balance,
		ReferenceType: "sale",
		ReferenceID:   referenceID,
		Counterparty:  counterparty,
		CreatedAt:     now,
	})
}

// WithdrawProceeds pays the caller's whole balance out. The balance is
// zeroed before funds are released; a failed release rolls the zeroing back.
func (s *Service) WithdrawProceeds(ctx context.Context, caller string) (receipt model.WithdrawalReceipt, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "withdrawProceeds", start, err, "seller", caller) }()

	if err := validateCaller(caller); err != nil {
		return model.WithdrawalReceipt{}, err
	}

	ctx, release, err := s.locks.acquire(ctx, proceedsLockKey(caller), levelProceeds)
	if err != nil {
		return model.WithdrawalReceipt{}, err
	}
	defer release()

	reference, err := s.payoutReference(ctx, caller)
	if err != nil {
		return model.WithdrawalReceipt{}, err
	}

	err = s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProceeds(ctx, caller)
		if err != nil {
			return fmt.Errorf("get proceeds: %w", err)
		}
		if !p.Balance.IsPositive() {
			return ErrNoProceeds
		}

		amount := p.Balance
		now := s.now()
		if err := tx.PutProceeds(ctx, model.Proceeds{Seller: caller, Balance: decimal.Zero, UpdatedAt: now}); err != nil {
			return fmt.Errorf("put proceeds: %w", err)
		}

		entryID := newEntryID()
		payoutID, err := s.payer.Release(ctx, caller, amount, reference)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}

		receipt = model.WithdrawalReceipt{
			Seller:    caller,
			Amount:    amount,
			PayoutID:  payoutID,
			CreatedAt: now,
		}
		return tx.AppendEntry(ctx, model.LedgerEntry{
			ID:            entryID,
			Seller:        caller,
			EntryType:     model.EntryTypeWithdrawal,
			Amount:        amount,
			BalanceAfter:  decimal.Zero,
			ReferenceType: "payout",
			ReferenceID:   payoutID,
			CreatedAt:     now,
		})
	})
	if err != nil {
		if receipt.PayoutID != "" {
			// funds left escrow but the zeroed balance did not persist; a retry
			// presents the same payout reference and is not paid again
			slog.ErrorContext(ctx, "withdrawal_commit_failed_after_payout",
				"seller", caller,
				"amount", receipt.Amount.String(),
				"payout_id", receipt.PayoutID,
				"error", err,
			)
		}
		return model.WithdrawalReceipt{}, err
	}

	slog.InfoContext(ctx, "proceeds_withdrawn",
		"seller", caller,
		"amount", receipt.Amount.String(),
		"payout_id", receipt.PayoutID,
	)
	s.publish(ctx, events.EventProceedsWithdrawn, caller, map[string]any{
		"seller":    caller,
		"amount":    receipt.Amount.String(),
		"payout_id": receipt.PayoutID,
	})

	return receipt, nil
}

// payoutReference names the balance about to be paid out by the seller's
// latest ledger entry. Until a withdrawal commits that entry stays the
// latest, so a retry after a failed commit presents the same reference and
// the payer returns the original payout instead of paying twice.
func (s *Service) payoutReference(ctx context.Context, seller string) (string, error) {
	latest, err := s.store.ListEntries(ctx, seller, 1)
	if err != nil {
		return "", fmt.Errorf("list ledger entries: %w", err)
	}
	if len(latest) == 0 {
		return "po_" + uuid.New().String(), nil
	}
	return "po_" + latest[0].ID, nil
}

// GetProceeds returns the seller's escrowed balance; zero if never credited
func (s *Service) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	if err := validateCaller(seller); err != nil {
		return model.Proceeds{}, err
	}
	p, err := s.store.GetProceeds(ctx, seller)
	if err != nil {
		return model.Proceeds{}, fmt.Errorf("get proceeds: %w", err)
	}
	return p, nil
}

// ListEntries returns the seller's proceeds history, newest first
func (s *Service) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	if err := validateCaller(seller); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, seller, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}
