package registry

import (
	"context"
	"errors"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrNotAuthorized = errors.New("operator not authorized for token")
)

// Registry is the external asset registry (ERC-721 style). The marketplace
// never holds custody; it moves assets only as an approved operator.
type Registry interface {
	OwnerOf(ctx context.Context, asset model.AssetKey) (string, error)
	// GetApproved returns the single-token approved operator, "" if none
	GetApproved(ctx context.Context, asset model.AssetKey) (string, error)
	IsApprovedForAll(ctx context.Context, collection, owner, operator string) (bool, error)
	TransferFrom(ctx context.Context, operator, from, to string, asset model.AssetKey) error
}
