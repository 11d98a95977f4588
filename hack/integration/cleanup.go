package integration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var marketplaceCollections = []string{
	"marketplace_listings",
	"marketplace_proceeds",
	"marketplace_ledger_entries",
}

// DatabaseCleaner handles cleanup of test data from MongoDB
type DatabaseCleaner struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewDatabaseCleaner creates a new database cleaner
func NewDatabaseCleaner(mongoURI, dbName string) (*DatabaseCleaner, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DatabaseCleaner{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// Client exposes the connection so tests can share it with the store
func (d *DatabaseCleaner) Client() *mongo.Client {
	return d.client
}

// Close closes the database connection
func (d *DatabaseCleaner) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// CleanAll removes all documents from the marketplace collections
func (d *DatabaseCleaner) CleanAll(ctx context.Context) error {
	for _, coll := range marketplaceCollections {
		if _, err := d.db.Collection(coll).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to clean collection %s: %w", coll, err)
		}
	}
	return nil
}

// CleanSeller removes the proceeds and ledger history of one seller
func (d *DatabaseCleaner) CleanSeller(ctx context.Context, seller string) error {
	if _, err := d.db.Collection("marketplace_proceeds").DeleteMany(ctx, bson.M{"seller": seller}); err != nil {
		return fmt.Errorf("failed to clean proceeds: %w", err)
	}
	if _, err := d.db.Collection("marketplace_ledger_entries").DeleteMany(ctx, bson.M{"seller": seller}); err != nil {
		return fmt.Errorf("failed to clean ledger entries: %w", err)
	}
	return nil
}

// CleanOlderThan removes listings older than a certain duration
func (d *DatabaseCleaner) CleanOlderThan(ctx context.Context, duration time.Duration) error {
	cutoff := time.Now().Add(-duration)
	_, err := d.db.Collection("marketplace_listings").DeleteMany(ctx, bson.M{"listed_at": bson.M{"$lt": cutoff}})
	return err
}
