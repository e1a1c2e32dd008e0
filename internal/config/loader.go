package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEVYD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEVYD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Token ──
	setStr(&cfg.Token.Name, "LEVYD_TOKEN_NAME")
	setStr(&cfg.Token.Symbol, "LEVYD_TOKEN_SYMBOL")
	setInt(&cfg.Token.Decimals, "LEVYD_TOKEN_DECIMALS")
	setStr(&cfg.Token.Address, "LEVYD_TOKEN_ADDRESS")
	setStr(&cfg.Token.Admin, "LEVYD_TOKEN_ADMIN")
	setStr(&cfg.Token.Custody, "LEVYD_TOKEN_CUSTODY")
	setStr(&cfg.Token.Genesis, "LEVYD_TOKEN_GENESIS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LEVYD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LEVYD_CHAIN_ID")
	setStr(&cfg.Chain.Router, "LEVYD_CHAIN_ROUTER")
	setStr(&cfg.Chain.PairedAsset, "LEVYD_CHAIN_PAIRED_ASSET")
	setUint64(&cfg.Chain.GasLimit, "LEVYD_CHAIN_GAS_LIMIT")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "LEVYD_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "LEVYD_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "LEVYD_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEVYD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LEVYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEVYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEVYD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEVYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEVYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEVYD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "LEVYD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "LEVYD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEVYD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEVYD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEVYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEVYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEVYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEVYD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEVYD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEVYD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LEVYD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEVYD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEVYD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEVYD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEVYD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEVYD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEVYD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LEVYD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "LEVYD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "LEVYD_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEVYD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEVYD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LEVYD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LEVYD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "LEVYD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStringSlice(&cfg.Notify.WebhookURLs, "LEVYD_NOTIFY_WEBHOOK_URLS")
	setStr(&cfg.Notify.WebhookSecret, "LEVYD_NOTIFY_WEBHOOK_SECRET")
	setStr(&cfg.Notify.DiscordWebhook, "LEVYD_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "LEVYD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEVYD_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "LEVYD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEVYD_MODE")
	setStr(&cfg.LogLevel, "LEVYD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
