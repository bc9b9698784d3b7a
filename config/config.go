package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Database    DatabaseConfig            `mapstructure:"database"`
	Redis       RedisConfig               `mapstructure:"redis"`
	JWT         JWTConfig                 `mapstructure:"jwt"`
	Log         LogConfig                 `mapstructure:"log"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Authz       AuthzConfig               `mapstructure:"authz"`
	Ledger      LedgerConfig              `mapstructure:"ledger"`
	Withdrawals WithdrawalConfig          `mapstructure:"withdrawals"`
	Intents     IntentConfig              `mapstructure:"intents"`
	RateLimit   RateLimitConfig           `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig configures verification of identity tokens minted by the identity provider.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// ProviderConfig holds the webhook signing secret of one payment provider.
type ProviderConfig struct {
	Secret string `mapstructure:"secret"`
}

// AuthzConfig names the admin tiers, lowest first.
type AuthzConfig struct {
	TierRoles        []string `mapstructure:"tier_roles"`
	ApprovalTier     int      `mapstructure:"approval_tier"`
	EscalationAmount int64    `mapstructure:"escalation_amount"` // minor units; 0 disables
}

type LedgerConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
}

type WithdrawalConfig struct {
	HoldStatuses []string `mapstructure:"hold_statuses"`
}

type IntentConfig struct {
	DefaultTTL          time.Duration `mapstructure:"default_ttl"` // 0 = no expiry
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	ExpiryBatchSize     int           `mapstructure:"expiry_batch_size"`
	IdempotencyCacheTTL time.Duration `mapstructure:"idempotency_cache_ttl"`
}

type RateLimitConfig struct {
	WebhookLimit  int64         `mapstructure:"webhook_limit"` // per provider per window; 0 disables
	WebhookWindow time.Duration `mapstructure:"webhook_window"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first if present.
// Environment variables override file values. Prefix: CL_ (custody ledger).
// Nested keys use underscore: CL_DATABASE_HOST, CL_PROVIDERS_MERCADOPAGO_SECRET, etc.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "custody_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "custody-identity")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("authz.tier_roles", []string{"operator", "admin", "superadmin"})
	v.SetDefault("authz.approval_tier", 2)
	v.SetDefault("authz.escalation_amount", 0)
	v.SetDefault("ledger.default_currency", "BRL")
	v.SetDefault("withdrawals.hold_statuses", []string{"REQUESTED"})
	v.SetDefault("intents.default_ttl", "30m")
	v.SetDefault("intents.expiry_sweep_interval", "1m")
	v.SetDefault("intents.expiry_batch_size", 100)
	v.SetDefault("intents.idempotency_cache_ttl", "24h")
	v.SetDefault("ratelimit.webhook_limit", 600)
	v.SetDefault("ratelimit.webhook_window", "1m")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Ledger.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Ledger.DefaultCurrency))
	for i, s := range c.Withdrawals.HoldStatuses {
		c.Withdrawals.HoldStatuses[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	normalized := make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		normalized[strings.ToLower(name)] = p
	}
	c.Providers = normalized
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if len(c.Authz.TierRoles) == 0 {
		errs = append(errs, errors.New("authz.tier_roles must name at least one role"))
	}
	if c.Authz.ApprovalTier < 1 || c.Authz.ApprovalTier > len(c.Authz.TierRoles) {
		errs = append(errs, fmt.Errorf("authz.approval_tier must be between 1 and %d", len(c.Authz.TierRoles)))
	}
	if c.Authz.EscalationAmount < 0 {
		errs = append(errs, errors.New("authz.escalation_amount must not be negative"))
	}
	for _, s := range c.Withdrawals.HoldStatuses {
		switch s {
		case "REQUESTED":
		case "APPROVED", "PAID":
			errs = append(errs, fmt.Errorf("withdrawals.hold_statuses: %q is already debited on the ledger", s))
		default:
			errs = append(errs, fmt.Errorf("withdrawals.hold_statuses: %q cannot hold funds", s))
		}
	}
	for name, p := range c.Providers {
		if p.Secret == "" {
			errs = append(errs, fmt.Errorf("providers.%s.secret is empty", name))
		}
	}
	return errors.Join(errs...)
}
