// Package config loads and validates hub configuration from the environment
// and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 512
	defaultRateBurst      = 5
	defaultRateInterval   = time.Second
	defaultSweepInterval  = 30 * time.Second
	defaultHistoryCap     = 100
	defaultAccessTTL      = 5 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultBcryptCost     = 10
)

// Config holds the hub configuration including security controls.
type Config struct {
	// Port is the HTTP listen address (e.g. ":8080").
	Port string `mapstructure:"SERVER_PORT"`
	// AllowedOrigins lists origins accepted at websocket upgrade; "*" allows all.
	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`
	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `mapstructure:"MAX_MESSAGE_SIZE"`
	// RateLimitBurst is the per-session token bucket capacity.
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
	// RateLimitRefillInterval is the time to refill a full bucket.
	RateLimitRefillInterval time.Duration `mapstructure:"RATE_LIMIT_REFILL_INTERVAL"`

	// SweepInterval is the liveness sweep period.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	// HistoryCap bounds the chat history list.
	HistoryCap int `mapstructure:"HISTORY_CAP"`

	AccessTokenSecret  string        `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `mapstructure:"REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL    time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	// RedisAddr selects the Redis ephemeral store; empty keeps state in process memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// DatabaseURL is the Postgres DSN for users and refresh tokens; empty uses in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	BcryptCost  int    `mapstructure:"BCRYPT_COST"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// NewViper returns a Viper instance with defaults applied, the optional .env
// file read and environment lookups enabled.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", defaultPort)
	v.SetDefault("ALLOWED_ORIGINS", []string{"http://localhost:8080"})
	v.SetDefault("MAX_MESSAGE_SIZE", defaultMaxMessageSize)
	v.SetDefault("RATE_LIMIT_BURST", defaultRateBurst)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", defaultRateInterval)
	v.SetDefault("SWEEP_INTERVAL", defaultSweepInterval)
	v.SetDefault("HISTORY_CAP", defaultHistoryCap)
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", defaultAccessTTL)
	v.SetDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BCRYPT_COST", defaultBcryptCost)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")

	return v
}

// Load builds a Config from v and validates it. Invalid optional values fall
// back to defaults; missing secrets are an error.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg = Sanitize(cfg)

	if cfg.AccessTokenSecret == "" {
		return nil, errors.New("config: ACCESS_TOKEN_SECRET must be set")
	}
	if cfg.RefreshTokenSecret == "" {
		return nil, errors.New("config: REFRESH_TOKEN_SECRET must be set")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, errors.New("config: ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// Sanitize replaces unset or non-positive values with defaults and trims the
// origin list.
func Sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateBurst
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = defaultRateInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = defaultHistoryCap
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaultBcryptCost
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if s := strings.TrimSpace(part); s != "" {
				origins = append(origins, s)
			}
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// IsProduction reports whether the hub runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}
