package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/payout"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
)

const (
	MarketplaceID = "marketplace_test"
	Collection    = "0xbasicnft"
	Seller        = "deployer"
	Buyer         = "player"
)

// ListingFixture builds a listing for store and handler tests
type ListingFixture struct {
	Collection string
	TokenID    string
	Seller     string
	Price      string
	ListedAt   time.Time
}

// NewListingFixture creates a default listing for testing
func NewListingFixture() ListingFixture {
	return ListingFixture{
		Collection: Collection,
		TokenID:    "0",
		Seller:     Seller,
		Price:      "100000000000000000",
		ListedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

// WithTokenID sets the token ID
func (l ListingFixture) WithTokenID(tokenID string) ListingFixture {
	l.TokenID = tokenID
	return l
}

// WithSeller sets the seller
func (l ListingFixture) WithSeller(seller string) ListingFixture {
	l.Seller = seller
	return l
}

// WithPrice sets the price
func (l ListingFixture) WithPrice(price string) ListingFixture {
	l.Price = price
	return l
}

// WithListedAt sets the listing time
func (l ListingFixture) WithListedAt(at time.Time) ListingFixture {
	l.ListedAt = at
	return l
}

func (l ListingFixture) Key() model.AssetKey {
	return model.NewAssetKey(l.Collection, l.TokenID)
}

// Build converts the fixture to a model.Listing
func (l ListingFixture) Build() model.Listing {
	return model.Listing{
		Collection: l.Collection,
		TokenID:    l.TokenID,
		Seller:     l.Seller,
		Price:      decimal.RequireFromString(l.Price),
		ListedAt:   l.ListedAt,
		UpdatedAt:  l.ListedAt,
	}
}

// MarketFixture bundles the in-memory collaborators of the marketplace
type MarketFixture struct {
	Registry *registry.Memory
	Bank     *payout.Bank
}

// NewMarketFixture mints token 0 of Collection to Seller and approves the
// marketplace for it
func NewMarketFixture() MarketFixture {
	reg := registry.NewMemory()
	key := model.NewAssetKey(Collection, "0")
	reg.Mint(key, Seller)
	reg.Approve(Seller, MarketplaceID, key)

	return MarketFixture{
		Registry: reg,
		Bank:     payout.NewBank(),
	}
}

// MintApproved mints tokenID to owner with single-token marketplace approval
func (f MarketFixture) MintApproved(tokenID, owner string) model.AssetKey {
	key := model.NewAssetKey(Collection, tokenID)
	f.Registry.Mint(key, owner)
	f.Registry.Approve(owner, MarketplaceID, key)
	return key
}
