package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

var ErrNotFound = errors.New("not found")

// Tx is the unit of work handed to Update. Reads see the transaction's own
// pending writes; nothing is visible to other readers until commit.
type Tx interface {
	GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error)
	PutListing(ctx context.Context, listing model.Listing) error
	DeleteListing(ctx context.Context, key model.AssetKey) error
	// GetProceeds returns a zero balance for sellers never credited
	GetProceeds(ctx context.Context, seller string) (model.Proceeds, error)
	PutProceeds(ctx context.Context, proceeds model.Proceeds) error
	AppendEntry(ctx context.Context, entry model.LedgerEntry) error
}

// MarketplaceStore holds listings, proceeds balances and the proceeds ledger.
//
// Update runs fn exactly once and commits its writes atomically only when fn
// returns nil; any error discards them. fn may perform external calls, so
// stores never retry it. Update provides atomicity, not isolation: callers
// serialize conflicting updates themselves.
type MarketplaceStore interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error)
	ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error)
	GetProceeds(ctx context.Context, seller string) (model.Proceeds, error)
	// ListEntries returns a seller's ledger entries, newest first; limit <= 0 means all
	ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error)
	Close(ctx context.Context) error
}

// committedReader reads the last committed state of a backend
type committedReader interface {
	GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error)
	GetProceeds(ctx context.Context, seller string) (model.Proceeds, error)
}

// writeSet buffers the writes of one Update until commit
type writeSet struct {
	base     committedReader
	listings map[model.AssetKey]*model.Listing // nil marks a delete
	proceeds map[string]model.Proceeds
	entries  []model.LedgerEntry
}

func newWriteSet(base committedReader) *writeSet {
	return &writeSet{
		base:     base,
		listings: make(map[model.AssetKey]*model.Listing),
		proceeds: make(map[string]model.Proceeds),
	}
}

func (w *writeSet) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	if l, ok := w.listings[key]; ok {
		if l == nil {
			return model.Listing{}, ErrNotFound
		}
		return *l, nil
	}
	return w.base.GetListing(ctx, key)
}

func (w *writeSet) PutListing(ctx context.Context, listing model.Listing) error {
	w.listings[listing.Key()] = &listing
	return nil
}

func (w *writeSet) DeleteListing(ctx context.Context, key model.AssetKey) error {
	w.listings[key] = nil
	return nil
}

func (w *writeSet) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	if p, ok := w.proceeds[seller]; ok {
		return p, nil
	}
	return w.base.GetProceeds(ctx, seller)
}

func (w *writeSet) PutProceeds(ctx context.Context, proceeds model.Proceeds) error {
	w.proceeds[proceeds.Seller] = proceeds
	return nil
}

func (w *writeSet) AppendEntry(ctx context.Context, entry model.LedgerEntry) error {
	w.entries = append(w.entries, entry)
	return nil
}

func (w *writeSet) empty() bool {
	return len(w.listings) == 0 && len(w.proceeds) == 0 && len(w.entries) == 0
}

// commitTimeout bounds a commit once it no longer follows the caller's
// cancellation
const commitTimeout = 10 * time.Second

// runUpdate executes fn against a fresh write set and hands the result to
// commit when fn succeeds. fn may already have moved an asset or released
// funds, so the commit ignores cancellation of ctx and is bounded by
// commitTimeout instead.
func runUpdate(ctx context.Context, base committedReader, fn func(context.Context, Tx) error, commit func(context.Context, *writeSet) error) error {
	ws := newWriteSet(base)
	if err := fn(ctx, ws); err != nil {
		return err
	}
	if ws.empty() {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return commit(commitCtx, ws)
}

// sortListings orders by listing time, then key, and applies the filter limit
func sortListings(listings []model.Listing, limit int) []model.Listing {
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].ListedAt.Equal(listings[j].ListedAt) {
			return listings[i].ListedAt.Before(listings[j].ListedAt)
		}
		return listings[i].Key().String() < listings[j].Key().String()
	})
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	return listings
}

// sortEntries orders newest first and applies limit
func sortEntries(entries []model.LedgerEntry, limit int) []model.LedgerEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func zeroProceeds(seller string) model.Proceeds {
	return model.Proceeds{Seller: seller, Balance: decimal.Zero}
}
