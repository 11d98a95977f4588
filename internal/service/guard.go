package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
)

// requireOwner returns ErrNotOwner unless the registry reports caller as the
// current owner. Ownership is read fresh on every call.
func (s *Service) requireOwner(ctx context.Context, caller string, asset model.AssetKey) error {
	owner, err := s.registry.OwnerOf(ctx, asset)
	if err != nil {
		if errors.Is(err, registry.ErrTokenNotFound) {
			return fmt.Errorf("%w: %v", ErrNotOwner, err)
		}
		return fmt.Errorf("registry owner lookup: %w", err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	return nil
}

// requireApprovedForMarketplace accepts either a single-token approval of the
// marketplace or a blanket operator approval from owner
func (s *Service) requireApprovedForMarketplace(ctx context.Context, owner string, asset model.AssetKey) error {
	approved, err := s.registry.GetApproved(ctx, asset)
	if err != nil {
		if errors.Is(err, registry.ErrTokenNotFound) {
			return fmt.Errorf("%w: %v", ErrNotApprovedForMarketplace, err)
		}
		return fmt.Errorf("registry approval lookup: %w", err)
	}
	if approved == s.marketplaceID {
		return nil
	}

	ok, err := s.registry.IsApprovedForAll(ctx, asset.Collection, owner, s.marketplaceID)
	if err != nil {
		return fmt.Errorf("registry operator lookup: %w", err)
	}
	if !ok {
		return ErrNotApprovedForMarketplace
	}
	return nil
}
