package store

import (
	"context"
	"sync"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

// MemoryStore implements MarketplaceStore with in-memory maps
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[model.AssetKey]model.Listing
	proceeds map[string]model.Proceeds
	entries  map[string][]model.LedgerEntry // seller -> entries, oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[model.AssetKey]model.Listing),
		proceeds: make(map[string]model.Proceeds),
		entries:  make(map[string][]model.LedgerEntry),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runUpdate(ctx, s, fn, s.commit)
}

func (s *MemoryStore) commit(ctx context.Context, ws *writeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, l := range ws.listings {
		if l == nil {
			delete(s.listings, key)
			continue
		}
		s.listings[key] = *l
	}
	for seller, p := range ws.proceeds {
		s.proceeds[seller] = p
	}
	for _, e := range ws.entries {
		s.entries[e.Seller] = append(s.entries[e.Seller], e)
	}
	return nil
}

func (s *MemoryStore) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[key]
	if !ok {
		return model.Listing{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	s.mu.RLock()
	out := make([]model.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if filter.Match(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()

	return sortListings(out, filter.Limit), nil
}

func (s *MemoryStore) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proceeds[seller]
	if !ok {
		return zeroProceeds(seller), nil
	}
	return p, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.entries[seller]
	n := len(src)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.LedgerEntry, 0, n)
	for i := len(src) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
