package store

import (
	"context"
	"fmt"
	"net/url"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

type FirestoreStore struct {
	client *firestore.Client
	prefix string
}

func NewFirestoreStore(projectID, prefix string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{
		client: client,
		prefix: prefix,
	}, nil
}

func (s *FirestoreStore) listings() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "_listings")
}

func (s *FirestoreStore) proceeds() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "_proceeds")
}

func (s *FirestoreStore) entries() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "_ledger_entries")
}

// listingDocID escapes both parts; Firestore IDs may not contain '/'
func listingDocID(key model.AssetKey) string {
	return url.QueryEscape(key.Collection) + ":" + url.QueryEscape(key.TokenID)
}

func (s *FirestoreStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runUpdate(ctx, s, fn, s.commit)
}

// commit applies the write set in one transaction. The function only
// writes, so Firestore may rerun it on contention.
func (s *FirestoreStore) commit(ctx context.Context, ws *writeSet) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for key, l := range ws.listings {
			ref := s.listings().Doc(listingDocID(key))
			if l == nil {
				if err := tx.Delete(ref); err != nil {
					return err
				}
				continue
			}
			if err := tx.Set(ref, newListingRecord(*l)); err != nil {
				return err
			}
		}
		for seller, p := range ws.proceeds {
			if err := tx.Set(s.proceeds().Doc(seller), newProceedsRecord(p)); err != nil {
				return err
			}
		}
		for _, e := range ws.entries {
			if err := tx.Create(s.entries().Doc(e.ID), newEntryRecord(e)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit marketplace transaction: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	doc, err := s.listings().Doc(listingDocID(key)).Get(ctx)
	if doc != nil && !doc.Exists() {
		return model.Listing{}, ErrNotFound
	}
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing: %w", err)
	}

	var rec listingRecord
	if err := doc.DataTo(&rec); err != nil {
		return model.Listing{}, fmt.Errorf("decode listing: %w", err)
	}
	return rec.model()
}

func (s *FirestoreStore) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	query := s.listings().Query
	if filter.Collection != "" {
		query = query.Where("collection", "==", filter.Collection)
	}
	if filter.Seller != "" {
		query = query.Where("seller", "==", filter.Seller)
	}
	query = query.OrderBy("listed_at", firestore.Asc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var listings []model.Listing
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate listings: %w", err)
		}

		var rec listingRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		l, err := rec.model()
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}

	return listings, nil
}

func (s *FirestoreStore) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	doc, err := s.proceeds().Doc(seller).Get(ctx)
	if doc != nil && !doc.Exists() {
		return zeroProceeds(seller), nil
	}
	if err != nil {
		return model.Proceeds{}, fmt.Errorf("get proceeds: %w", err)
	}

	var rec proceedsRecord
	if err := doc.DataTo(&rec); err != nil {
		return model.Proceeds{}, fmt.Errorf("decode proceeds: %w", err)
	}
	return rec.model()
}

func (s *FirestoreStore) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	query := s.entries().
		Where("seller", "==", seller).
		OrderBy("created_at", firestore.Desc).
		OrderBy("seq", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []model.LedgerEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate ledger entries: %w", err)
		}

		var rec entryRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		e, err := rec.model()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (s *FirestoreStore) Close(ctx context.Context) error {
	return s.client.Close()
}
