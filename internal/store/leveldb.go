package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	levelds "github.com/ipfs/go-ds-leveldb"
	ldbopts "github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

var (
	listingsPrefix = datastore.NewKey("/listings")
	proceedsPrefix = datastore.NewKey("/proceeds")
	entriesPrefix  = datastore.NewKey("/entries")
)

// LevelDBStore keeps the marketplace in an embedded LevelDB datastore.
// Values are JSON records; commits go through a datastore batch.
type LevelDBStore struct {
	raw *levelds.Datastore
	ds  datastore.Batching
}

// NewLevelDBStore opens the datastore at path. An empty path keeps all data
// in memory.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	raw, err := levelds.NewDatastore(path, &levelds.Options{
		Compression: ldbopts.NoCompression,
		NoSync:      false,
		Strict:      ldbopts.StrictAll,
		ReadOnly:    false,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStore{
		raw: raw,
		ds:  namespace.Wrap(raw, datastore.NewKey("/marketplace")),
	}, nil
}

func listingKey(key model.AssetKey) datastore.Key {
	return listingsPrefix.ChildString(url.PathEscape(key.Collection)).ChildString(url.PathEscape(key.TokenID))
}

func proceedsKey(seller string) datastore.Key {
	return proceedsPrefix.ChildString(url.PathEscape(seller))
}

func entriesKey(seller string) datastore.Key {
	return entriesPrefix.ChildString(url.PathEscape(seller))
}

// entryKey sorts by insertion sequence within a seller
func entryKey(rec entryRecord) datastore.Key {
	return entriesKey(rec.Seller).ChildString(fmt.Sprintf("%020d-%s", rec.Seq, rec.ID))
}

func (s *LevelDBStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runUpdate(ctx, s, fn, s.commit)
}

func (s *LevelDBStore) commit(ctx context.Context, ws *writeSet) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("open batch: %w", err)
	}

	for key, l := range ws.listings {
		if l == nil {
			if err := batch.Delete(ctx, listingKey(key)); err != nil {
				return fmt.Errorf("delete listing: %w", err)
			}
			continue
		}
		if err := putJSON(ctx, batch, listingKey(key), newListingRecord(*l)); err != nil {
			return err
		}
	}
	for seller, p := range ws.proceeds {
		if err := putJSON(ctx, batch, proceedsKey(seller), newProceedsRecord(p)); err != nil {
			return err
		}
	}
	for _, e := range ws.entries {
		rec := newEntryRecord(e)
		if err := putJSON(ctx, batch, entryKey(rec), rec); err != nil {
			return err
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func putJSON(ctx context.Context, batch datastore.Batch, key datastore.Key, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := batch.Put(ctx, key, b); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *LevelDBStore) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	b, err := s.ds.Get(ctx, listingKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return model.Listing{}, ErrNotFound
	}
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing: %w", err)
	}

	var rec listingRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.Listing{}, fmt.Errorf("decode listing: %w", err)
	}
	return rec.model()
}

func (s *LevelDBStore) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	prefix := listingsPrefix
	if filter.Collection != "" {
		prefix = prefix.ChildString(url.PathEscape(filter.Collection))
	}

	res, err := s.ds.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer res.Close()

	var listings []model.Listing
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, fmt.Errorf("iterate listings: %w", r.Error)
		}

		var rec listingRecord
		if err := json.Unmarshal(r.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode listing %s: %w", r.Key, err)
		}
		l, err := rec.model()
		if err != nil {
			return nil, err
		}
		if filter.Match(l) {
			listings = append(listings, l)
		}
	}

	return sortListings(listings, filter.Limit), nil
}

func (s *LevelDBStore) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	b, err := s.ds.Get(ctx, proceedsKey(seller))
	if errors.Is(err, datastore.ErrNotFound) {
		return zeroProceeds(seller), nil
	}
	if err != nil {
		return model.Proceeds{}, fmt.Errorf("get proceeds: %w", err)
	}

	var rec proceedsRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.Proceeds{}, fmt.Errorf("decode proceeds: %w", err)
	}
	return rec.model()
}

func (s *LevelDBStore) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	q := dsq.Query{
		Prefix: entriesKey(seller).String(),
		Orders: []dsq.Order{dsq.OrderByKeyDescending{}},
	}
	if limit > 0 {
		q.Limit = limit
	}

	res, err := s.ds.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	all, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	entries := make([]model.LedgerEntry, 0, len(all))
	for _, r := range all {
		var rec entryRecord
		if err := json.Unmarshal(r.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry %s: %w", r.Key, err)
		}
		e, err := rec.model()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *LevelDBStore) Close(ctx context.Context) error {
	return s.raw.Close()
}
