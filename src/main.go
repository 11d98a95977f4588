package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/config"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/httpapi"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/httpclient"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/payout"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/service"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting aex-marketplace",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"marketplace_id", cfg.MarketplaceID,
		"store", cfg.StoreType,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	marketStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "store", cfg.StoreType, "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStore(ctx); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	var reg registry.Registry
	if cfg.RegistryURL != "" {
		reg = registry.NewClient(cfg.RegistryURL, cfg.Timeout(), bearer(cfg.RegistryToken))
		slog.Info("using remote asset registry", "url", cfg.RegistryURL)
	} else {
		reg = registry.NewMemory()
		slog.Warn("REGISTRY_URL not set, using in-memory asset registry")
	}

	var payer payout.Payer
	if cfg.PayoutURL != "" {
		payer = payout.NewClient(cfg.PayoutURL, cfg.Timeout(), bearer(cfg.PayoutToken))
		slog.Info("using remote payout service", "url", cfg.PayoutURL)
	} else {
		payer = payout.NewBank()
		slog.Warn("PAYOUT_URL not set, using in-memory payout bank")
	}

	publisher := events.NewPublisher("aex-marketplace")
	if cfg.EventWebhookURL != "" {
		publisher.RegisterCatchAll(cfg.EventWebhookURL)
	}

	// Initialize service
	svc := service.New(marketStore, reg, payer, publisher, cfg.MarketplaceID)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.NewRouter(svc),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// openStore returns the configured backend and a function that releases it
func openStore(ctx context.Context, cfg *config.Config) (store.MarketplaceStore, func(context.Context) error, error) {
	switch cfg.StoreType {
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}
		s := store.NewMongoMarketplaceStore(client, cfg.MongoDB)
		if err := s.EnsureIndexes(ctx); err != nil {
			slog.Warn("failed to create indexes", "error", err)
		}
		slog.Info("using mongodb store", "uri", cfg.MongoURI, "db", cfg.MongoDB)
		return s, client.Disconnect, nil

	case config.StoreFirestore:
		s, err := store.NewFirestoreStore(cfg.FirestoreProject, cfg.FirestorePrefix)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using firestore store", "project", cfg.FirestoreProject, "prefix", cfg.FirestorePrefix)
		return s, s.Close, nil

	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using sqlite store", "path", cfg.SQLitePath)
		return s, s.Close, nil

	case config.StoreLevelDB:
		s, err := store.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using leveldb store", "path", cfg.LevelDBPath)
		return s, s.Close, nil

	default:
		s := store.NewMemoryStore()
		slog.Warn("using in-memory store, state is lost on restart")
		return s, s.Close, nil
	}
}

func bearer(token string) httpclient.AuthProvider {
	if token == "" {
		return nil
	}
	return &httpclient.BearerTokenAuth{Token: token}
}
