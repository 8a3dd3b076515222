// Package config defines the top-level configuration of the ledger service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRUTHLEDGER_* environment variables.
type Config struct {
	Ledger     LedgerConfig     `toml:"ledger"`
	Authority  AuthorityConfig  `toml:"authority"`
	Store      StoreConfig      `toml:"store"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Kafka      KafkaConfig      `toml:"kafka"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Cache      CacheConfig      `toml:"cache"`
	Server     ServerConfig     `toml:"server"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// LedgerConfig holds the process-wide ledger parameters.
type LedgerConfig struct {
	// Authority is the address allowed to create and resolve markets. When
	// empty it is taken from the loaded authority key.
	Authority        string `toml:"authority"`
	Asset            string `toml:"asset"`
	AssetDecimals    int    `toml:"asset_decimals"`
	MaxExternalIDLen int    `toml:"max_external_id_len"`
}

// AuthorityConfig locates the key the server signs resolutions with.
type AuthorityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether a signing key is configured.
func (a AuthorityConfig) HasKey() bool {
	return a.PrivateKey != "" || a.EncryptedKeyPath != ""
}

// StoreConfig selects the ledger storage backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // "postgres" or "memory"
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// KafkaConfig configures the ledger event log.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled          bool   `toml:"enabled"`
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	ArchiveOnResolve bool   `toml:"archive_on_resolve"`
}

// PolymarketConfig configures event discovery.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	Timeout        duration `toml:"timeout"`
	DiscoveryLimit int      `toml:"discovery_limit"`
	DiscoveryTTL   duration `toml:"discovery_ttl"`
}

// MatcherConfig selects the text matcher.
type MatcherConfig struct {
	Provider string   `toml:"provider"` // "keyword" or "ai"
	APIKey   string   `toml:"api_key"`
	BaseURL  string   `toml:"base_url"`
	Models   []string `toml:"models"`
	Timeout  duration `toml:"timeout"`
}

// CacheConfig holds cache lifetimes.
type CacheConfig struct {
	MappingTTL duration `toml:"mapping_ttl"`
	OddsTTL    duration `toml:"odds_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	AdminAPIKey string   `toml:"admin_api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Asset:            "USDC",
			AssetDecimals:    6,
			MaxExternalIDLen: 50,
		},
		Store: StoreConfig{Backend: "postgres"},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "truthledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "truthledger",
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "truthledger.ledger-events",
			BatchTimeout: duration{50 * time.Millisecond},
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "truthledger-settlements",
			ForcePathStyle:   true,
			ArchiveOnResolve: true,
		},
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			Timeout:        duration{10 * time.Second},
			DiscoveryLimit: 50,
			DiscoveryTTL:   duration{time.Minute},
		},
		Matcher: MatcherConfig{
			Provider: "keyword",
			Models:   []string{"gemini-2.0-flash"},
			Timeout:  duration{15 * time.Second},
		},
		Cache: CacheConfig{
			MappingTTL: duration{24 * time.Hour},
			OddsTTL:    duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "truthledger"},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "invariant_violation", "archive_failed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if strings.TrimSpace(c.Ledger.Asset) == "" {
		errs = append(errs, "ledger: asset must not be empty")
	}
	if c.Ledger.AssetDecimals < 0 || c.Ledger.AssetDecimals > 18 {
		errs = append(errs, fmt.Sprintf("ledger: asset_decimals must be 0-18, got %d", c.Ledger.AssetDecimals))
	}
	if c.Ledger.MaxExternalIDLen < 1 {
		errs = append(errs, "ledger: max_external_id_len must be >= 1")
	}
	if c.Ledger.Authority == "" && !c.Authority.HasKey() {
		errs = append(errs, "ledger: authority must be set, or an authority key configured")
	}

	// Authority
	if c.Authority.PrivateKey != "" && c.Authority.EncryptedKeyPath != "" {
		errs = append(errs, "authority: set only one of private_key and encrypted_key_path")
	}
	if c.Authority.EncryptedKeyPath != "" && c.Authority.KeyPassword == "" {
		errs = append(errs, "authority: key_password is required when encrypted_key_path is set")
	}

	// Store
	switch strings.ToLower(c.Store.Backend) {
	case "memory":
		if mode == "archive" {
			errs = append(errs, "store: archive mode needs the postgres backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	} else if mode == "archive" {
		errs = append(errs, "s3: archive mode needs s3.enabled = true")
	}

	// Matcher
	switch strings.ToLower(c.Matcher.Provider) {
	case "", "keyword", "ai":
	default:
		errs = append(errs, fmt.Sprintf("matcher: unknown provider %q (valid: keyword, ai)", c.Matcher.Provider))
	}

	// Server
	if mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
