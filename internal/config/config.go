package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all runtime settings. Values come from an optional YAML file
// and are overridden by PRICETRAIL_* environment variables. Secrets are
// read from the environment only.
type Config struct {
	Env     string `yaml:"env" env:"PRICETRAIL_ENV" env-default:"local"`
	Version string `yaml:"-"`

	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"PRICETRAIL_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"PRICETRAIL_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"PRICETRAIL_HTTP_WRITE_TIMEOUT" env-default:"0s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"PRICETRAIL_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PRICETRAIL_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	RateBurst       int           `yaml:"rate_burst" env:"PRICETRAIL_RATE_BURST" env-default:"40"`
	RatePerSecond   int           `yaml:"rate_per_second" env:"PRICETRAIL_RATE_PER_SECOND" env-default:"20"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"PRICETRAIL_ALLOWED_ORIGINS" env-separator:","`
}

// GRPCConfig controls the health endpoint; an empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr" env:"PRICETRAIL_GRPC_ADDR" env-default:""`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"-" env:"PRICETRAIL_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PRICETRAIL_PG_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PRICETRAIL_PG_MAX_IDLE_CONNS" env-default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PRICETRAIL_PG_CONN_MAX_LIFETIME" env-default:"30m"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"PRICETRAIL_PG_AUTO_MIGRATE" env-default:"false"`
}

type AuthConfig struct {
	Secret     string        `yaml:"-" env:"PRICETRAIL_AUTH_SECRET"`
	Issuer     string        `yaml:"issuer" env:"PRICETRAIL_AUTH_ISSUER" env-default:"pricetrail"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"PRICETRAIL_AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"PRICETRAIL_AUTH_REFRESH_TTL" env-default:"336h"`

	// BootstrapAdminEmails always hold every permission flag.
	BootstrapAdminEmails []string `yaml:"bootstrap_admin_emails" env:"PRICETRAIL_BOOTSTRAP_ADMIN_EMAIL" env-separator:","`
}

// CatalogConfig tunes the cached listing snapshot. Zero ViewMaxAge turns
// the snapshot off and every listing reads the store.
type CatalogConfig struct {
	ViewMaxAge time.Duration `yaml:"view_max_age" env:"PRICETRAIL_CATALOG_VIEW_MAX_AGE" env-default:"5s"`
}

// RedisConfig enables cross-instance change fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"PRICETRAIL_REDIS_ADDR" env-default:""`
	Password string `yaml:"-" env:"PRICETRAIL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"PRICETRAIL_REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"PRICETRAIL_REDIS_CHANNEL" env-default:"pricetrail:changes"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"PRICETRAIL_LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"PRICETRAIL_LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads path when it exists and falls back to the environment alone otherwise.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("PRICETRAIL_AUTH_SECRET is required")
	}
	if len(c.Auth.Secret) < 16 {
		return errors.New("PRICETRAIL_AUTH_SECRET must be at least 16 bytes")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("auth token lifetimes must be positive")
	}
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSecond <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	if c.Catalog.ViewMaxAge < 0 {
		return errors.New("PRICETRAIL_CATALOG_VIEW_MAX_AGE must not be negative")
	}
	if !c.IsLocal() && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("PRICETRAIL_PG_DSN is required outside local environments (env %q)", c.Env)
	}
	return nil
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "dev"
}
