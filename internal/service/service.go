package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/metrics"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/payout"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
)

// Service is the marketplace ledger core. Every mutating operation holds
// the keyed locks of what it touches across its external call and commits
// through a single store update.
type Service struct {
	store         store.MarketplaceStore
	registry      registry.Registry
	payer         payout.Payer
	events        *events.Publisher
	marketplaceID string
	locks         *keyedLocks
	now           func() time.Time
}

// New wires the service. marketplaceID is the operator identity owners
// approve in the registry; a nil publisher gets a default one.
func New(st store.MarketplaceStore, reg registry.Registry, payer payout.Payer, pub *events.Publisher, marketplaceID string) *Service {
	if pub == nil {
		pub = events.NewPublisher("aex-marketplace")
	}

	slog.Info("marketplace service initialized",
		"marketplace_id", marketplaceID,
	)

	return &Service{
		store:         st,
		registry:      reg,
		payer:         payer,
		events:        pub,
		marketplaceID: marketplaceID,
		locks:         newKeyedLocks(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MarketplaceID returns the operator identity the service transfers as
func (s *Service) MarketplaceID() string {
	return s.marketplaceID
}

// record reports the outcome of an operation. Business-rule rejections are
// expected traffic and log at debug.
func (s *Service) record(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	code := Code(err)
	metrics.RecordOperation(op, code, time.Since(start))

	switch code {
	case CodeOK:
	case CodeInternal:
		slog.ErrorContext(ctx, "operation_failed", append(attrs, "operation", op, "error", err)...)
	case CodeTransferFailed:
		metrics.RecordRollback(op)
		slog.WarnContext(ctx, "operation_rolled_back", append(attrs, "operation", op, "error", err)...)
	default:
		slog.DebugContext(ctx, "operation_rejected", append(attrs, "operation", op, "code", code, "error", err)...)
	}
}

func validateCaller(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return fmt.Errorf("%w: caller is required", ErrInvalidRequest)
	}
	return nil
}

func validateAsset(asset model.AssetKey) error {
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// lookupListing reads a listing inside a transaction, mapping absence to ErrNotListed
func lookupListing(ctx context.Context, tx store.Tx, asset model.AssetKey) (model.Listing, error) {
	l, err := tx.GetListing(ctx, asset)
	if errors.Is(err, store.ErrNotFound) {
		return model.Listing{}, ErrNotListed
	}
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *Service) publish(ctx context.Context, eventType, subject string, data map[string]any) {
	if err := s.events.Publish(ctx, eventType, subject, data); err != nil {
		slog.WarnContext(ctx, "event_publish_failed", "event_type", eventType, "error", err)
	}
}

func newEntryID() string {
	return "le_" + uuid.New().String()
}
