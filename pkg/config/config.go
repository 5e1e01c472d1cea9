package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the process-global configuration, read once at start. There is no
// hot reload.
type Config struct {
	// API server
	ListenAddr string

	// Persistence
	DatabaseURL string

	// Stream broker (work queue + processor backlog)
	BrokerType     string
	BrokerURL      string
	BrokerPassword string

	// Namespace-scoped object storage handed to spawned containers
	BucketName   string
	BucketRegion string

	// Tunnel
	TailnetAuthKey string
	Tailnet        string

	// Authorization
	RootOwner     string
	AuthServerURL string

	// Metering
	MeterSinkURL   string
	MeterSinkToken string

	// GPU cloud backend
	BackendAPIURL  string
	BackendAPIKey  string
	RegistryAuthID string

	// Secret encryption key (32 bytes after derivation)
	EncryptionKey string

	// Datacenter selection
	PreferredRegions []string

	// Loop cadence. Overridable mainly for tests.
	TickInterval  time.Duration
	WatchInterval time.Duration

	LogLevel string
	LogJSON  bool
}

// FromEnv builds the configuration from PADDOCK_* environment variables.
// DatabaseURL, BrokerURL and EncryptionKey are required; everything else has
// a default or may be empty.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("PADDOCK_LISTEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("PADDOCK_DATABASE_URL"),
		BrokerType:     envOr("PADDOCK_BROKER_TYPE", "redis"),
		BrokerURL:      os.Getenv("PADDOCK_BROKER_URL"),
		BrokerPassword: os.Getenv("PADDOCK_BROKER_PASSWORD"),
		BucketName:     os.Getenv("PADDOCK_BUCKET_NAME"),
		BucketRegion:   os.Getenv("PADDOCK_BUCKET_REGION"),
		TailnetAuthKey: os.Getenv("PADDOCK_TAILNET_AUTH_KEY"),
		Tailnet:        os.Getenv("PADDOCK_TAILNET"),
		RootOwner:      os.Getenv("PADDOCK_ROOT_OWNER"),
		AuthServerURL:  os.Getenv("PADDOCK_AUTH_SERVER_URL"),
		MeterSinkURL:   os.Getenv("PADDOCK_METER_SINK_URL"),
		MeterSinkToken: os.Getenv("PADDOCK_METER_SINK_TOKEN"),
		BackendAPIURL:  os.Getenv("PADDOCK_BACKEND_API_URL"),
		BackendAPIKey:  os.Getenv("PADDOCK_BACKEND_API_KEY"),
		RegistryAuthID: os.Getenv("PADDOCK_REGISTRY_AUTH_ID"),
		EncryptionKey:  os.Getenv("PADDOCK_ENCRYPTION_KEY"),
		TickInterval:   2 * time.Second,
		WatchInterval:  20 * time.Second,
		LogLevel:       envOr("PADDOCK_LOG_LEVEL", "info"),
		LogJSON:        os.Getenv("PADDOCK_LOG_JSON") == "true",
	}

	if regions := os.Getenv("PADDOCK_PREFERRED_REGIONS"); regions != "" {
		for _, r := range strings.Split(regions, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.PreferredRegions = append(cfg.PreferredRegions, r)
			}
		}
	}

	if d := os.Getenv("PADDOCK_TICK_INTERVAL"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("invalid PADDOCK_TICK_INTERVAL: %w", err)
		}
		cfg.TickInterval = parsed
	}
	if d := os.Getenv("PADDOCK_WATCH_INTERVAL"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("invalid PADDOCK_WATCH_INTERVAL: %w", err)
		}
		cfg.WatchInterval = parsed
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("PADDOCK_DATABASE_URL is required")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("PADDOCK_BROKER_URL is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("PADDOCK_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
