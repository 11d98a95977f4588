package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
)

// BuyItem purchases a listed asset for payment. The listing is removed and
// the seller credited with the asking price before the asset moves; if the
// registry transfer fails both effects roll back. Payment above the price
// stays with the marketplace.
func (s *Service) BuyItem(ctx context.Context, caller string, asset model.AssetKey, payment decimal.Decimal) (receipt model.PurchaseReceipt, err error) {
	start := time.Now()
	defer func() {
		s.record(ctx, "buyItem", start, err, "collection", asset.Collection, "token_id", asset.TokenID, "buyer", caller)
	}()

	if err := validateCaller(caller); err != nil {
		return model.PurchaseReceipt{}, err
	}
	if err := validateAsset(asset); err != nil {
		return model.PurchaseReceipt{}, err
	}
	if err := model.CheckAmount(payment); err != nil {
		return model.PurchaseReceipt{}, err
	}

	ctx, releaseAsset, err := s.locks.acquire(ctx, assetLockKey(asset.String()), levelAsset)
	if err != nil {
		return model.PurchaseReceipt{}, err
	}
	defer releaseAsset()

	// the asset lock pins the listing, so its seller is stable from here on
	listing, ok, err := s.GetListing(ctx, asset)
	if err != nil {
		return model.PurchaseReceipt{}, err
	}
	if !ok {
		return model.PurchaseReceipt{}, ErrNotListed
	}
	if payment.LessThan(listing.Price) {
		return model.PurchaseReceipt{}, ErrPriceNotMet
	}

	ctx, releaseProceeds, err := s.locks.acquire(ctx, proceedsLockKey(listing.Seller), levelProceeds)
	if err != nil {
		return model.PurchaseReceipt{}, err
	}
	defer releaseProceeds()

	transferred := false
	err = s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := lookupListing(ctx, tx, asset)
		if err != nil {
			return err
		}

		// effects
		if err := tx.DeleteListing(ctx, asset); err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}
		if err := s.credit(ctx, tx, l.Seller, l.Price, asset.String(), caller); err != nil {
			return err
		}

		// interaction
		if err := s.registry.TransferFrom(ctx, s.marketplaceID, l.Seller, caller, asset); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		transferred = true

		receipt = model.PurchaseReceipt{
			Collection: asset.Collection,
			TokenID:    asset.TokenID,
			Seller:     l.Seller,
			Buyer:      caller,
			Price:      l.Price,
			Paid:       payment,
			SettledAt:  s.now(),
		}
		return nil
	})
	if err != nil {
		if transferred {
			slog.ErrorContext(ctx, "purchase_commit_failed_after_transfer",
				"collection", asset.Collection,
				"token_id", asset.TokenID,
				"seller", listing.Seller,
				"buyer", caller,
				"error", err,
			)
		}
		return model.PurchaseReceipt{}, err
	}

	slog.InfoContext(ctx, "item_bought",
		"collection", asset.Collection,
		"token_id", asset.TokenID,
		"seller", receipt.Seller,
		"buyer", caller,
		"price", receipt.Price.String(),
		"paid", payment.String(),
	)
	s.publish(ctx, events.EventItemBought, asset.String(), map[string]any{
		"buyer":      caller,
		"seller":     receipt.Seller,
		"collection": asset.Collection,
		"token_id":   asset.TokenID,
		"price":      receipt.Price.String(),
	})

	return receipt, nil
}
