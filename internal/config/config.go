package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreMemory    = "memory"
	StoreMongo     = "mongo"
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"
	StoreLevelDB   = "leveldb"
)

type Config struct {
	Port        string `toml:"port"`
	Environment string `toml:"environment"`

	StoreType        string `toml:"store_type"`
	MongoURI         string `toml:"mongo_uri"`
	MongoDB          string `toml:"mongo_db"`
	FirestoreProject string `toml:"firestore_project"`
	FirestorePrefix  string `toml:"firestore_prefix"`
	SQLitePath       string `toml:"sqlite_path"`
	LevelDBPath      string `toml:"leveldb_path"`

	// MarketplaceID is the operator identity owners approve in the asset registry
	MarketplaceID   string   `toml:"marketplace_id"`
	RegistryURL     string   `toml:"registry_url"`
	RegistryToken   string   `toml:"registry_token"`
	PayoutURL       string   `toml:"payout_url"`
	PayoutToken     string   `toml:"payout_token"`
	EventWebhookURL string   `toml:"event_webhook_url"`
	HTTPTimeout     duration `toml:"http_timeout"`
}

// duration lets TOML files say http_timeout = "5s"
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		Environment:     "development",
		StoreType:       StoreMemory,
		MongoURI:        "mongodb://localhost:27017",
		MongoDB:         "aex",
		FirestorePrefix: "marketplace",
		SQLitePath:      "marketplace.db",
		LevelDBPath:     "marketplace-ldb",
		MarketplaceID:   "aex-marketplace",
		HTTPTimeout:     duration{10 * time.Second},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.StoreType = getEnv("STORE_TYPE", cfg.StoreType)
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDB = getEnv("MONGO_DB", cfg.MongoDB)
	cfg.FirestoreProject = getEnv("FIRESTORE_PROJECT", cfg.FirestoreProject)
	cfg.FirestorePrefix = getEnv("FIRESTORE_PREFIX", cfg.FirestorePrefix)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.LevelDBPath = getEnv("LEVELDB_PATH", cfg.LevelDBPath)
	cfg.MarketplaceID = getEnv("MARKETPLACE_ID", cfg.MarketplaceID)
	cfg.RegistryURL = getEnv("REGISTRY_URL", cfg.RegistryURL)
	cfg.RegistryToken = getEnv("REGISTRY_TOKEN", cfg.RegistryToken)
	cfg.PayoutURL = getEnv("PAYOUT_URL", cfg.PayoutURL)
	cfg.PayoutToken = getEnv("PAYOUT_TOKEN", cfg.PayoutToken)
	cfg.EventWebhookURL = getEnv("EVENT_WEBHOOK_URL", cfg.EventWebhookURL)

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = duration{d}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MarketplaceID == "" {
		return fmt.Errorf("marketplace_id is required")
	}
	switch c.StoreType {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			return fmt.Errorf("mongo store requires MONGO_URI and MONGO_DB")
		}
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("firestore store requires FIRESTORE_PROJECT")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite store requires SQLITE_PATH")
		}
	case StoreLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("leveldb store requires LEVELDB_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.StoreType)
	}
	if c.HTTPTimeout.Duration <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	return nil
}

// Timeout returns the outbound HTTP timeout
func (c *Config) Timeout() time.Duration {
	return c.HTTPTimeout.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
