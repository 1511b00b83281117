// Package config defines the top-level configuration for the OrcBet service
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ORCBET_* environment variables.
type Config struct {
	Manager  ManagerConfig  `toml:"manager"`
	Eth      EthConfig      `toml:"eth"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// ManagerConfig holds the immutable protocol parameters and the identities
// used to auto-initialize the manager at boot.
type ManagerConfig struct {
	// FeeBasisPoints is the stake-time protocol fee, 0-10000.
	FeeBasisPoints int `toml:"fee_basis_points"`
	// MinimumStake is the smallest accepted gross bet, as a decimal string
	// in token base units.
	MinimumStake string `toml:"minimum_stake"`
	// Owner may initialize the manager and whitelist feeds.
	Owner string `toml:"owner"`
	// Resolver, when set, auto-initializes the manager at startup with this
	// identity; leave empty to initialize via the API instead.
	Resolver string `toml:"resolver"`
	// UpkeepID is the opaque automation registration id recorded alongside
	// the resolver; decimal string.
	UpkeepID string `toml:"upkeep_id"`
	// Feeds are whitelisted at startup (idempotent).
	Feeds []string `toml:"feeds"`
}

// EthConfig holds chain connectivity and the escrow treasury credentials for
// the ERC-20 value-transfer adapter.
type EthConfig struct {
	// Mode selects the value-transfer adapter: "erc20" or "memory" (dev).
	Mode             string `toml:"mode"`
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	TokenAddress     string `toml:"token_address"`
	TreasuryKey      string `toml:"treasury_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// OracleConfig selects and tunes the price-oracle adapter.
type OracleConfig struct {
	// Mode selects the adapter: "chainlink" or "manual" (dev).
	Mode string `toml:"mode"`
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

// S3Config holds S3-compatible object storage parameters for the settlement
// archive. Archiving is disabled when Enabled is false.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Manager: ManagerConfig{
			FeeBasisPoints: 100,
			MinimumStake:   "1000000000",
		},
		Eth: EthConfig{
			Mode:    "memory",
			ChainID: 1,
		},
		Oracle: OracleConfig{
			Mode: "manual",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orcbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "orcbet-settlements",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_resolved"},
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Manager
	if c.Manager.FeeBasisPoints < 0 || c.Manager.FeeBasisPoints > 10_000 {
		errs = append(errs, fmt.Sprintf("manager: fee_basis_points must be 0-10000, got %d", c.Manager.FeeBasisPoints))
	}
	if min, ok := new(big.Int).SetString(c.Manager.MinimumStake, 10); !ok || min.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("manager: minimum_stake must be a positive decimal string, got %q", c.Manager.MinimumStake))
	}
	if c.Manager.Owner != "" && !common.IsHexAddress(c.Manager.Owner) {
		errs = append(errs, fmt.Sprintf("manager: owner %q is not a valid address", c.Manager.Owner))
	}
	if c.Manager.Resolver != "" && !common.IsHexAddress(c.Manager.Resolver) {
		errs = append(errs, fmt.Sprintf("manager: resolver %q is not a valid address", c.Manager.Resolver))
	}
	if c.Manager.UpkeepID != "" {
		if _, ok := new(big.Int).SetString(c.Manager.UpkeepID, 10); !ok {
			errs = append(errs, fmt.Sprintf("manager: upkeep_id must be a decimal string, got %q", c.Manager.UpkeepID))
		}
	}
	for _, feed := range c.Manager.Feeds {
		if !common.IsHexAddress(feed) {
			errs = append(errs, fmt.Sprintf("manager: feed %q is not a valid address", feed))
		}
	}

	// Eth
	switch c.Eth.Mode {
	case "memory":
	case "erc20":
		if c.Eth.RPCURL == "" {
			errs = append(errs, "eth: rpc_url is required for erc20 mode")
		}
		if !common.IsHexAddress(c.Eth.TokenAddress) {
			errs = append(errs, fmt.Sprintf("eth: token_address %q is not a valid address", c.Eth.TokenAddress))
		}
		if c.Eth.ChainID <= 0 {
			errs = append(errs, "eth: chain_id must be positive")
		}
		if c.Eth.TreasuryKey == "" && c.Eth.EncryptedKeyPath == "" {
			errs = append(errs, "eth: either treasury_key or encrypted_key_path must be set for erc20 mode")
		}
		if c.Eth.EncryptedKeyPath != "" && c.Eth.KeyPassword == "" {
			errs = append(errs, "eth: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("eth: unknown mode %q (valid: erc20, memory)", c.Eth.Mode))
	}

	// Oracle
	switch c.Oracle.Mode {
	case "manual":
	case "chainlink":
		if c.Eth.RPCURL == "" {
			errs = append(errs, "oracle: eth.rpc_url is required for chainlink mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown mode %q (valid: chainlink, manual)", c.Oracle.Mode))
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MinimumStakeAmount parses the configured minimum stake. Call Validate
// first; this panics on malformed input.
func (c *Config) MinimumStakeAmount() *big.Int {
	min, ok := new(big.Int).SetString(c.Manager.MinimumStake, 10)
	if !ok {
		panic(fmt.Sprintf("config: minimum_stake %q not validated", c.Manager.MinimumStake))
	}
	return min
}

// UpkeepIDAmount parses the configured upkeep id, nil when unset.
func (c *Config) UpkeepIDAmount() *big.Int {
	if c.Manager.UpkeepID == "" {
		return nil
	}
	id, ok := new(big.Int).SetString(c.Manager.UpkeepID, 10)
	if !ok {
		panic(fmt.Sprintf("config: upkeep_id %q not validated", c.Manager.UpkeepID))
	}
	return id
}
