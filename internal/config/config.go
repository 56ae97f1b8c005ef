// Package config loads the clearing house configuration.
//
// Values start from Default, are overlaid by an optional YAML file named
// by CONFIG_FILE, then by individual environment variables.
//
// YAML config example:
//
//	port: "8080"
//	database_url: "postgres://localhost/clearing_house"
//	redis_url: "redis://localhost:6379/0"
//	nats_url: "nats://localhost:4222"
//	cache_ttl: 30s
//	log_level: info
//	max_positions: 5
//	collateral_asset: USDC
//	supported_assets: [BTC, ETH, DOT]
//	default_price: "10"
//	operator_prices: false
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/clearing-house/internal/oracle"
)

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	Port              string        `yaml:"port"`
	DatabaseURL       string        `yaml:"database_url"`
	Migrate           bool          `yaml:"migrate"`
	RedisURL          string        `yaml:"redis_url"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubjectPrefix string        `yaml:"nats_subject_prefix"`
	LogLevel          string        `yaml:"log_level"`

	// MaxPositions bounds the number of markets an account can hold
	// positions in at once.
	MaxPositions    int      `yaml:"max_positions"`
	CollateralAsset string   `yaml:"collateral_asset"`
	SupportedAssets []string `yaml:"supported_assets"`

	// DefaultPrice seeds the reference price source for markets created
	// without their own price. Empty leaves it unset.
	DefaultPrice string `yaml:"default_price"`

	// OperatorPrices mounts the endpoint that sets market prices. Anyone
	// who can reach it decides execution prices, so it is off by default.
	OperatorPrices bool `yaml:"operator_prices"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              "8080",
		Migrate:           true,
		CacheTTL:          30 * time.Second,
		NATSSubjectPrefix: "clearinghouse.events",
		LogLevel:          "info",
		MaxPositions:      5,
		CollateralAsset:   "USDC",
		SupportedAssets:   []string{"BTC", "ETH"},
	}
}

// Load reads the configuration from CONFIG_FILE (if set) and the process
// environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom reads the YAML file at path (skipped when empty), applies
// overrides from lookup and validates the result.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("NATS_URL", &c.NATSURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("COLLATERAL_ASSET", &c.CollateralAsset)
	str("DEFAULT_PRICE", &c.DefaultPrice)

	if v, ok := lookup("MAX_POSITIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MAX_POSITIONS: %v", ErrInvalid, err)
		}
		c.MaxPositions = n
	}
	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: CACHE_TTL: %v", ErrInvalid, err)
		}
		c.CacheTTL = ttl
	}
	if v, ok := lookup("SUPPORTED_ASSETS"); ok && v != "" {
		c.SupportedAssets = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.SupportedAssets = append(c.SupportedAssets, a)
			}
		}
	}
	if err := boolEnv(lookup, "MIGRATE", &c.Migrate); err != nil {
		return err
	}
	if err := boolEnv(lookup, "OPERATOR_PRICES", &c.OperatorPrices); err != nil {
		return err
	}
	return nil
}

func boolEnv(lookup func(string) (string, bool), key string, dst *bool) error {
	if v, ok := lookup(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks every field, returning the first problem found.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is empty", ErrInvalid)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("%w: max_positions must be at least 1, got %d", ErrInvalid, c.MaxPositions)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := oracle.ParseAssetID(c.CollateralAsset); err != nil {
		return fmt.Errorf("%w: collateral_asset: %v", ErrInvalid, err)
	}
	for _, a := range c.SupportedAssets {
		if _, err := oracle.ParseAssetID(a); err != nil {
			return fmt.Errorf("%w: supported_assets: %v", ErrInvalid, err)
		}
	}
	if _, err := c.Price(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// Price returns the parsed default price, or nil if none is configured.
func (c Config) Price() (*decimal.Decimal, error) {
	if c.DefaultPrice == "" {
		return nil, nil
	}
	p, err := decimal.NewFromString(c.DefaultPrice)
	if err != nil || p.IsNegative() {
		return nil, fmt.Errorf("%w: default_price %q", ErrInvalid, c.DefaultPrice)
	}
	return &p, nil
}
