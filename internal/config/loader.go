package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORCBET_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ORCBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Manager ──
	setInt(&cfg.Manager.FeeBasisPoints, "ORCBET_MANAGER_FEE_BASIS_POINTS")
	setStr(&cfg.Manager.MinimumStake, "ORCBET_MANAGER_MINIMUM_STAKE")
	setStr(&cfg.Manager.Owner, "ORCBET_MANAGER_OWNER")
	setStr(&cfg.Manager.Resolver, "ORCBET_MANAGER_RESOLVER")
	setStr(&cfg.Manager.UpkeepID, "ORCBET_MANAGER_UPKEEP_ID")
	setStringSlice(&cfg.Manager.Feeds, "ORCBET_MANAGER_FEEDS")

	// ── Eth ──
	setStr(&cfg.Eth.Mode, "ORCBET_ETH_MODE")
	setStr(&cfg.Eth.RPCURL, "ORCBET_ETH_RPC_URL")
	setInt64(&cfg.Eth.ChainID, "ORCBET_ETH_CHAIN_ID")
	setStr(&cfg.Eth.TokenAddress, "ORCBET_ETH_TOKEN_ADDRESS")
	setStr(&cfg.Eth.TreasuryKey, "ORCBET_ETH_TREASURY_KEY")
	setStr(&cfg.Eth.EncryptedKeyPath, "ORCBET_ETH_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Eth.KeyPassword, "ORCBET_ETH_KEY_PASSWORD")

	// ── Oracle ──
	setStr(&cfg.Oracle.Mode, "ORCBET_ORACLE_MODE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORCBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORCBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORCBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORCBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORCBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORCBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORCBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORCBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORCBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORCBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORCBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORCBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORCBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORCBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORCBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORCBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ORCBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORCBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORCBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORCBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORCBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORCBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORCBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORCBET_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "ORCBET_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ORCBET_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ORCBET_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORCBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORCBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORCBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORCBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "ORCBET_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
