package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetKey identifies a unique asset: a token inside a collection
type AssetKey struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// NewAssetKey builds a key from raw request values
func NewAssetKey(collection, tokenID string) AssetKey {
	return AssetKey{
		Collection: strings.TrimSpace(collection),
		TokenID:    strings.TrimSpace(tokenID),
	}
}

func (k AssetKey) Validate() error {
	if k.Collection == "" || k.TokenID == "" {
		return errors.New("collection and token_id are required")
	}
	if strings.Contains(k.Collection, "/") || strings.Contains(k.TokenID, "/") {
		return errors.New("collection and token_id must not contain '/'")
	}
	return nil
}

// String returns the canonical "collection/token" form used as a storage key
func (k AssetKey) String() string {
	return k.Collection + "/" + k.TokenID
}

// Listing is an active offer to sell one asset at a fixed price
type Listing struct {
	Collection string          `json:"collection"`
	TokenID    string          `json:"token_id"`
	Seller     string          `json:"seller"`
	Price      decimal.Decimal `json:"price"`
	ListedAt   time.Time       `json:"listed_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (l Listing) Key() AssetKey {
	return AssetKey{Collection: l.Collection, TokenID: l.TokenID}
}

// ListingFilter narrows ListListings; empty fields match everything
type ListingFilter struct {
	Collection string
	Seller     string
	Limit      int
}

func (f ListingFilter) Match(l Listing) bool {
	if f.Collection != "" && l.Collection != f.Collection {
		return false
	}
	if f.Seller != "" && l.Seller != f.Seller {
		return false
	}
	return true
}

// Proceeds is the escrowed balance owed to a seller
type Proceeds struct {
	Seller    string          `json:"seller"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// EntryType classifies proceeds ledger entries
type EntryType string

const (
	EntryTypeCredit     EntryType = "CREDIT"
	EntryTypeWithdrawal EntryType = "WITHDRAWAL"
)

// LedgerEntry is an immutable record of a proceeds balance change
type LedgerEntry struct {
	ID            string          `json:"id"`
	Seller        string          `json:"seller"`
	EntryType     EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceType string          `json:"reference_type"` // sale|payout
	ReferenceID   string          `json:"reference_id"`
	Counterparty  string          `json:"counterparty,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PurchaseReceipt describes a completed buyItem
type PurchaseReceipt struct {
	Collection string          `json:"collection"`
	TokenID    string          `json:"token_id"`
	Seller     string          `json:"seller"`
	Buyer      string          `json:"buyer"`
	Price      decimal.Decimal `json:"price"`
	Paid       decimal.Decimal `json:"paid"`
	SettledAt  time.Time       `json:"settled_at"`
}

// WithdrawalReceipt describes a completed withdrawProceeds
type WithdrawalReceipt struct {
	Seller    string          `json:"seller"`
	Amount    decimal.Decimal `json:"amount"`
	PayoutID  string          `json:"payout_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListingListResponse represents a page of active listings
type ListingListResponse struct {
	Listings []Listing `json:"listings"`
	Count    int       `json:"count"`
}

// EntryListResponse represents proceeds history for a seller
type EntryListResponse struct {
	Entries []LedgerEntry `json:"entries"`
	Count   int           `json:"count"`
}

// ListItemRequest is the body of POST /v1/listings
type ListItemRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
}

// UpdateListingRequest is the body of PUT /v1/listings/{collection}/{tokenID}
type UpdateListingRequest struct {
	Price string `json:"price"`
}

// PurchaseRequest is the body of POST /v1/listings/{collection}/{tokenID}/purchase
type PurchaseRequest struct {
	Payment string `json:"payment"`
}
