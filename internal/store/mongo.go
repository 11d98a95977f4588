package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

// MongoMarketplaceStore persists the marketplace in MongoDB. Commits run in
// a multi-document transaction, so the server must be a replica set.
type MongoMarketplaceStore struct {
	client   *mongo.Client
	listings *mongo.Collection
	proceeds *mongo.Collection
	entries  *mongo.Collection
}

func NewMongoMarketplaceStore(client *mongo.Client, dbName string) *MongoMarketplaceStore {
	db := client.Database(dbName)
	return &MongoMarketplaceStore{
		client:   client,
		listings: db.Collection("marketplace_listings"),
		proceeds: db.Collection("marketplace_proceeds"),
		entries:  db.Collection("marketplace_ledger_entries"),
	}
}

func (s *MongoMarketplaceStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.listings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "listed_at", Value: 1}}},
		{Keys: bson.D{{Key: "seller", Value: 1}, {Key: "listed_at", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seller", Value: 1}, {Key: "created_at", Value: -1}, {Key: "seq", Value: -1}},
	})
	return err
}

func (s *MongoMarketplaceStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runUpdate(ctx, s, fn, s.commit)
}

// commit writes the set in one transaction. The callback only writes, so
// the driver may safely retry it on transient errors.
func (s *MongoMarketplaceStore) commit(ctx context.Context, ws *writeSet) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for key, l := range ws.listings {
			if l == nil {
				if _, err := s.listings.DeleteOne(sc, bson.M{"_id": key.String()}); err != nil {
					return nil, err
				}
				continue
			}
			rec := newListingRecord(*l)
			if _, err := s.listings.ReplaceOne(sc, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true)); err != nil {
				return nil, err
			}
		}
		for _, p := range ws.proceeds {
			rec := newProceedsRecord(p)
			if _, err := s.proceeds.ReplaceOne(sc, bson.M{"_id": rec.Seller}, rec, options.Replace().SetUpsert(true)); err != nil {
				return nil, err
			}
		}
		if len(ws.entries) > 0 {
			docs := make([]any, 0, len(ws.entries))
			for _, e := range ws.entries {
				docs = append(docs, newEntryRecord(e))
			}
			if _, err := s.entries.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("commit marketplace transaction: %w", err)
	}
	return nil
}

func (s *MongoMarketplaceStore) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec listingRecord
	err := s.listings.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Listing{}, ErrNotFound
		}
		return model.Listing{}, err
	}
	return rec.model()
}

func (s *MongoMarketplaceStore) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := bson.M{}
	if filter.Collection != "" {
		query["collection"] = filter.Collection
	}
	if filter.Seller != "" {
		query["seller"] = filter.Seller
	}

	opts := options.Find().SetSort(bson.D{{Key: "listed_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.listings.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []listingRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}

	listings := make([]model.Listing, 0, len(recs))
	for _, rec := range recs {
		l, err := rec.model()
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (s *MongoMarketplaceStore) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec proceedsRecord
	err := s.proceeds.FindOne(ctx, bson.M{"_id": seller}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return zeroProceeds(seller), nil
		}
		return model.Proceeds{}, err
	}
	return rec.model()
}

func (s *MongoMarketplaceStore) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// seq breaks created_at ties in insertion order
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.entries.Find(ctx, bson.M{"seller": seller}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []entryRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}

	entries := make([]model.LedgerEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.model()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MongoMarketplaceStore) Close(ctx context.Context) error {
	// the client is shared with main, which disconnects it
	return nil
}
