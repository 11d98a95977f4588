package store

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

// Persisted forms of the model types. Amounts are stored as decimal strings
// so no backend rounds them.

type listingRecord struct {
	ID         string    `bson:"_id" firestore:"-" json:"-"`
	Collection string    `bson:"collection" firestore:"collection" json:"collection"`
	TokenID    string    `bson:"token_id" firestore:"token_id" json:"token_id"`
	Seller     string    `bson:"seller" firestore:"seller" json:"seller"`
	Price      string    `bson:"price" firestore:"price" json:"price"`
	ListedAt   time.Time `bson:"listed_at" firestore:"listed_at" json:"listed_at"`
	UpdatedAt  time.Time `bson:"updated_at" firestore:"updated_at" json:"updated_at"`
}

func newListingRecord(l model.Listing) listingRecord {
	return listingRecord{
		ID:         l.Key().String(),
		Collection: l.Collection,
		TokenID:    l.TokenID,
		Seller:     l.Seller,
		Price:      l.Price.String(),
		ListedAt:   l.ListedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func (r listingRecord) model() (model.Listing, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return model.Listing{}, fmt.Errorf("decode listing %s/%s price: %w", r.Collection, r.TokenID, err)
	}
	return model.Listing{
		Collection: r.Collection,
		TokenID:    r.TokenID,
		Seller:     r.Seller,
		Price:      price,
		ListedAt:   r.ListedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

type proceedsRecord struct {
	Seller    string    `bson:"_id" firestore:"seller" json:"seller"`
	Balance   string    `bson:"balance" firestore:"balance" json:"balance"`
	UpdatedAt time.Time `bson:"updated_at" firestore:"updated_at" json:"updated_at"`
}

func newProceedsRecord(p model.Proceeds) proceedsRecord {
	return proceedsRecord{
		Seller:    p.Seller,
		Balance:   p.Balance.String(),
		UpdatedAt: p.UpdatedAt,
	}
}

func (r proceedsRecord) model() (model.Proceeds, error) {
	balance, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return model.Proceeds{}, fmt.Errorf("decode proceeds %s balance: %w", r.Seller, err)
	}
	return model.Proceeds{
		Seller:    r.Seller,
		Balance:   balance,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

type entryRecord struct {
	ID            string    `bson:"_id" firestore:"id" json:"id"`
	Seller        string    `bson:"seller" firestore:"seller" json:"seller"`
	EntryType     string    `bson:"entry_type" firestore:"entry_type" json:"entry_type"`
	Amount        string    `bson:"amount" firestore:"amount" json:"amount"`
	BalanceAfter  string    `bson:"balance_after" firestore:"balance_after" json:"balance_after"`
	ReferenceType string    `bson:"reference_type" firestore:"reference_type" json:"reference_type"`
	ReferenceID   string    `bson:"reference_id" firestore:"reference_id" json:"reference_id"`
	Counterparty  string    `bson:"counterparty,omitempty" firestore:"counterparty,omitempty" json:"counterparty,omitempty"`
	CreatedAt     time.Time `bson:"created_at" firestore:"created_at" json:"created_at"`
	Seq           int64     `bson:"seq" firestore:"seq" json:"seq"`
}

var lastEntrySeq atomic.Int64

// nextEntrySeq orders entries by insertion within the process. It follows
// the wall clock so entries written by different processes still interleave
// by time.
func nextEntrySeq() int64 {
	for {
		last := lastEntrySeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if lastEntrySeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func newEntryRecord(e model.LedgerEntry) entryRecord {
	return entryRecord{
		ID:            e.ID,
		Seller:        e.Seller,
		EntryType:     string(e.EntryType),
		Amount:        e.Amount.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Counterparty:  e.Counterparty,
		CreatedAt:     e.CreatedAt,
		Seq:           nextEntrySeq(),
	}
}

func (r entryRecord) model() (model.LedgerEntry, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("decode entry %s amount: %w", r.ID, err)
	}
	after, err := decimal.NewFromString(r.BalanceAfter)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("decode entry %s balance: %w", r.ID, err)
	}
	return model.LedgerEntry{
		ID:            r.ID,
		Seller:        r.Seller,
		EntryType:     model.EntryType(r.EntryType),
		Amount:        amount,
		BalanceAfter:  after,
		ReferenceType: r.ReferenceType,
		ReferenceID:   r.ReferenceID,
		Counterparty:  r.Counterparty,
		CreatedAt:     r.CreatedAt,
	}, nil
}
