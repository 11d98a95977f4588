package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS listings (
	collection TEXT NOT NULL,
	token_id TEXT NOT NULL,
	seller TEXT NOT NULL,
	price TEXT NOT NULL,
	listed_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, token_id)
);
CREATE INDEX IF NOT EXISTS listings_seller ON listings (seller, listed_at);

CREATE TABLE IF NOT EXISTS proceeds (
	seller TEXT PRIMARY KEY,
	balance TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	seller TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	amount TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	reference_type TEXT NOT NULL,
	reference_id TEXT NOT NULL,
	counterparty TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_seller ON ledger_entries (seller, seq);
`

// SQLiteStore persists the marketplace in a single SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path with WAL enabled
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; serializes commits instead of surfacing SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runUpdate(ctx, s, fn, s.commit)
}

func (s *SQLiteStore) commit(ctx context.Context, ws *writeSet) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for key, l := range ws.listings {
		if l == nil {
			if _, err = tx.ExecContext(ctx,
				"DELETE FROM listings WHERE collection = ? AND token_id = ?",
				key.Collection, key.TokenID,
			); err != nil {
				return fmt.Errorf("delete listing: %w", err)
			}
			continue
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO listings (collection, token_id, seller, price, listed_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, token_id) DO UPDATE SET seller=excluded.seller, price=excluded.price, listed_at=excluded.listed_at, updated_at=excluded.updated_at`,
			l.Collection, l.TokenID, l.Seller, l.Price.String(), l.ListedAt.UnixNano(), l.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("upsert listing: %w", err)
		}
	}

	for _, p := range ws.proceeds {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO proceeds (seller, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(seller) DO UPDATE SET balance=excluded.balance, updated_at=excluded.updated_at`,
			p.Seller, p.Balance.String(), p.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("upsert proceeds: %w", err)
		}
	}

	for _, e := range ws.entries {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, seller, entry_type, amount, balance_after, reference_type, reference_id, counterparty, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Seller, string(e.EntryType), e.Amount.String(), e.BalanceAfter.String(),
			e.ReferenceType, e.ReferenceID, e.Counterparty, e.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, key model.AssetKey) (model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT collection, token_id, seller, price, listed_at, updated_at FROM listings WHERE collection = ? AND token_id = ?",
		key.Collection, key.TokenID,
	)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Listing{}, ErrNotFound
	}
	return l, err
}

func (s *SQLiteStore) ListListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error) {
	var (
		where []string
		args  []any
	)
	if filter.Collection != "" {
		where = append(where, "collection = ?")
		args = append(args, filter.Collection)
	}
	if filter.Seller != "" {
		where = append(where, "seller = ?")
		args = append(args, filter.Seller)
	}

	query := "SELECT collection, token_id, seller, price, listed_at, updated_at FROM listings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY listed_at, collection, token_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) GetProceeds(ctx context.Context, seller string) (model.Proceeds, error) {
	rec := proceedsRecord{Seller: seller}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance, updated_at FROM proceeds WHERE seller = ?", seller,
	).Scan(&rec.Balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return zeroProceeds(seller), nil
	}
	if err != nil {
		return model.Proceeds{}, fmt.Errorf("query proceeds: %w", err)
	}
	rec.UpdatedAt = fromUnixNano(updated)
	return rec.model()
}

func (s *SQLiteStore) ListEntries(ctx context.Context, seller string, limit int) ([]model.LedgerEntry, error) {
	query := `SELECT id, seller, entry_type, amount, balance_after, reference_type, reference_id, counterparty, created_at
		FROM ledger_entries WHERE seller = ? ORDER BY seq DESC`
	args := []any{seller}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			rec     entryRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Seller, &rec.EntryType, &rec.Amount, &rec.BalanceAfter,
			&rec.ReferenceType, &rec.ReferenceID, &rec.Counterparty, &created); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		rec.CreatedAt = fromUnixNano(created)
		e, err := rec.model()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (model.Listing, error) {
	var (
		rec            listingRecord
		listed, update int64
	)
	if err := row.Scan(&rec.Collection, &rec.TokenID, &rec.Seller, &rec.Price, &listed, &update); err != nil {
		return model.Listing{}, err
	}
	rec.ListedAt = fromUnixNano(listed)
	rec.UpdatedAt = fromUnixNano(update)
	return rec.model()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
