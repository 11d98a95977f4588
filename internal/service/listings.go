package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
)

// checkPrice rejects fractional prices as malformed and non-positive ones
// as a business rule
func checkPrice(price decimal.Decimal) error {
	if !price.IsInteger() {
		return ErrInvalidAmount
	}
	if !price.IsPositive() {
		return ErrPriceMustBeAboveZero
	}
	return nil
}

// ListItem offers asset for sale at price. The caller must own the asset and
// the marketplace must be approved to move it.
func (s *Service) ListItem(ctx context.Context, caller string, asset model.AssetKey, price decimal.Decimal) (listing model.Listing, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "listItem", start, err, "collection", asset.Collection, "token_id", asset.TokenID) }()

	if err := validateCaller(caller); err != nil {
		return model.Listing{}, err
	}
	if err := validateAsset(asset); err != nil {
		return model.Listing{}, err
	}
	if err := checkPrice(price); err != nil {
		return model.Listing{}, err
	}

	ctx, release, err := s.locks.acquire(ctx, assetLockKey(asset.String()), levelAsset)
	if err != nil {
		return model.Listing{}, err
	}
	defer release()

	err = s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetListing(ctx, asset)
		if err == nil {
			return ErrAlreadyListed
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get listing: %w", err)
		}

		if err := s.requireOwner(ctx, caller, asset); err != nil {
			return err
		}
		if err := s.requireApprovedForMarketplace(ctx, caller, asset); err != nil {
			return err
		}

		now := s.now()
		listing = model.Listing{
			Collection: asset.Collection,
			TokenID:    asset.TokenID,
			Seller:     caller,
			Price:      price,
			ListedAt:   now,
			UpdatedAt:  now,
		}
		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return model.Listing{}, err
	}

	slog.InfoContext(ctx, "item_listed",
		"collection", asset.Collection,
		"token_id", asset.TokenID,
		"seller", caller,
		"price", price.String(),
	)
	s.publish(ctx, events.EventItemListed, asset.String(), listingEventData(listing))

	return listing, nil
}

// CancelListing removes an active listing. Only the asset's current owner may cancel.
func (s *Service) CancelListing(ctx context.Context, caller string, asset model.AssetKey) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "cancelListing", start, err, "collection", asset.Collection, "token_id", asset.TokenID) }()

	if err := validateCaller(caller); err != nil {
		return err
	}
	if err := validateAsset(asset); err != nil {
		return err
	}

	ctx, release, err := s.locks.acquire(ctx, assetLockKey(asset.String()), levelAsset)
	if err != nil {
		return err
	}
	defer release()

	err = s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := lookupListing(ctx, tx, asset); err != nil {
			return err
		}
		if err := s.requireOwner(ctx, caller, asset); err != nil {
			return err
		}
		return tx.DeleteListing(ctx, asset)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "item_canceled",
		"collection", asset.Collection,
		"token_id", asset.TokenID,
		"seller", caller,
	)
	s.publish(ctx, events.EventItemCanceled, asset.String(), map[string]any{
		"seller":     caller,
		"collection": asset.Collection,
		"token_id":   asset.TokenID,
	})

	return nil
}

// UpdateListing sets a new price. Ownership and marketplace approval are
// verified again and the caller becomes the listing's seller.
func (s *Service) UpdateListing(ctx context.Context, caller string, asset model.AssetKey, newPrice decimal.Decimal) (listing model.Listing, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "updateListing", start, err, "collection", asset.Collection, "token_id", asset.TokenID) }()

	if err := validateCaller(caller); err != nil {
		return model.Listing{}, err
	}
	if err := validateAsset(asset); err != nil {
		return model.Listing{}, err
	}
	if !newPrice.IsInteger() {
		return model.Listing{}, ErrInvalidAmount
	}

	ctx, release, err := s.locks.acquire(ctx, assetLockKey(asset.String()), levelAsset)
	if err != nil {
		return model.Listing{}, err
	}
	defer release()

	err = s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := lookupListing(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, caller, asset); err != nil {
			return err
		}
		if err := checkPrice(newPrice); err != nil {
			return err
		}
		if err := s.requireApprovedForMarketplace(ctx, caller, asset); err != nil {
			return err
		}

		listing = current
		listing.Seller = caller
		listing.Price = newPrice
		listing.UpdatedAt = s.now()
		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return model.Listing{}, err
	}

	slog.InfoContext(ctx, "listing_updated",
		"collection", asset.Collection,
		"token_id", asset.TokenID,
		"seller", caller,
		"price", newPrice.String(),
	)
	s.publish(ctx, events.EventItemListed, asset.String(), listingEventData(listing))

	return listing, nil
}

// GetListing returns the active listing for asset; ok is false when none
// exists. A malformed key can never have been listed, so it reads as absent.
// The error is reserved for store failures.
func (s *Service) GetListing(ctx context.Context, asset model.AssetKey) (model.Listing, bool, error) {
	if validateAsset(asset) != nil {
		return model.Listing{}, false, nil
	}
	l, err := s.store.GetListing(ctx, asset)
	if errors.Is(err, store.ErrNotFound) {
		return model.Listing{}, false, nil
	}
	if err != nil {
		return model.Listing{}, false, fmt.Errorf("get listing: %w", err)
	}
	return l, true, nil
}

// ListListings browses active listings
func (s *Service) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	listings, err := s.store.ListListings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	return listings, nil
}

func listingEventData(l model.Listing) map[string]any {
	return map[string]any{
		"seller":     l.Seller,
		"collection": l.Collection,
		"token_id":   l.TokenID,
		"price":      l.Price.String(),
	}
}
