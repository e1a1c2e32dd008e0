// Package config defines the top-level configuration for the levy ledger
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEVYD_* environment variables.
type Config struct {
	Token    TokenConfig    `toml:"token"`
	Chain    ChainConfig    `toml:"chain"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TokenConfig holds the ledger token identity and levy parties.
type TokenConfig struct {
	Name     string `toml:"name"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
	// Address is the token's own identity, rejected by foreign-asset recovery.
	Address string `toml:"address"`
	// Admin becomes the administrator and receives the genesis supply.
	Admin string `toml:"admin"`
	// Custody is the protocol identity that stages withheld tax.
	Custody string `toml:"custody"`
	// Genesis is the window start as RFC3339; empty means process start.
	Genesis string `toml:"genesis"`
}

// ChainConfig holds the exchange gateway connection parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	// Router is the V2-style exchange router address.
	Router string `toml:"router"`
	// PairedAsset is the second asset of the liquidity pool.
	PairedAsset string `toml:"paired_asset"`
	// GasLimit caps gas per gateway transaction.
	GasLimit uint64 `toml:"gas_limit"`
}

// OperatorConfig holds the key used to sign gateway transactions. Either a
// raw hex private key or a path to an encrypted keyfile plus its password.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds history archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit is the per-client request budget per minute. Zero disables
	// rate limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel parameters. Generic webhooks,
// Discord, and Telegram can all be active at once.
type NotifyConfig struct {
	WebhookURLs []string `toml:"webhook_urls"`

	// WebhookSecret, when set, makes generic webhook deliveries carry HMAC
	// signature headers.
	WebhookSecret string `toml:"webhook_secret"`

	DiscordWebhook string `toml:"discord_webhook"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`

	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Token: TokenConfig{
			Name:     "Levy",
			Symbol:   "LVY",
			Decimals: 18,
			Address:  "0x0000000000000000000000000000000000000001",
			Custody:  "0x0000000000000000000000000000000000000002",
		},
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
			// Mainnet Uniswap V2 router and WETH.
			Router:      "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			PairedAsset: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			GasLimit:    600_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "levyd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "levyd-history",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   300,
		},
		Notify: NotifyConfig{
			Events: []string{"tax_collected", "liquidity_added", "window_closed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"server":  true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Token.Decimals < 0 || c.Token.Decimals > 36 {
		errs = append(errs, fmt.Sprintf("token: decimals must be 0-36, got %d", c.Token.Decimals))
	}
	for _, f := range []struct{ name, value string }{
		{"token.address", c.Token.Address},
		{"token.admin", c.Token.Admin},
		{"token.custody", c.Token.Custody},
		{"chain.router", c.Chain.Router},
		{"chain.paired_asset", c.Chain.PairedAsset},
	} {
		if f.value == "" {
			errs = append(errs, f.name+" must not be empty")
			continue
		}
		if !common.IsHexAddress(f.value) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a valid address", f.name, f.value))
		}
	}
	if c.Token.Genesis != "" {
		if _, err := time.Parse(time.RFC3339, c.Token.Genesis); err != nil {
			errs = append(errs, fmt.Sprintf("token: genesis %q is not RFC3339: %v", c.Token.Genesis, err))
		}
	}

	// The operator key and RPC endpoint are only exercised in full mode,
	// where the daemon signs gateway transactions.
	if strings.ToLower(c.Mode) == "full" {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode full")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
