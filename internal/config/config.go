// Package config loads the service configuration from environment
// variables and an optional YAML file. Environment variables win over the
// file; the file wins over the built-in defaults.
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
	"gopkg.in/yaml.v2"

	"github.com/tradeflow/margin-engine/internal/margin"
)

const (
	configFileENV = "CONFIG_FILE"
	portENV       = "PORT"
	databaseENV   = "DATABASE_URL"
	redisENV      = "REDIS_URL"
	cacheTTLENV   = "CACHE_TTL"
	feeRateENV    = "FEE_RATE"
	chargeFeesENV = "CHARGE_FEES"
	logLevelENV   = "LOG_LEVEL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// File is the YAML layout. Decimal values are strings to keep precision.
type File struct {
	Port        string        `yaml:"port"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	FeeRate     string        `yaml:"fee_rate"`
	ChargeFees  *bool         `yaml:"charge_fees"`
	LogLevel    string        `yaml:"log_level"`

	// Leverage overrides the default leverage per market type.
	Leverage map[string]string `yaml:"leverage"`

	Risk struct {
		MaxOpenPositions int    `yaml:"max_open_positions"`
		MaxOrderNotional string `yaml:"max_order_notional"`
		MaxClassExposure string `yaml:"max_class_exposure"`
	} `yaml:"risk"`

	// Quotes seeds the active quote book (Redis or in-memory) at startup.
	Quotes map[string]string `yaml:"quotes"`
}

// Config is the resolved configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	FeeRate     decimal.Decimal
	ChargeFees  bool
	LogLevel    slog.Level

	Leverage map[string]decimal.Decimal

	MaxOpenPositions int
	MaxOrderNotional decimal.Decimal
	MaxClassExposure decimal.Decimal

	Quotes map[string]decimal.Decimal
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration using getenv for variable lookup.
func LoadFrom(getenv func(string) string) (*Config, error) {
	f := File{
		Port:     "8080",
		CacheTTL: 30 * time.Second,
		FeeRate:  margin.DefaultFeeRate.String(),
		LogLevel: "info",
	}

	if path := getenv(configFileENV); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &f); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if v := getenv(portENV); v != "" {
		f.Port = v
	}
	if v := getenv(databaseENV); v != "" {
		f.DatabaseURL = v
	}
	if v := getenv(redisENV); v != "" {
		f.RedisURL = v
	}
	if v := getenv(cacheTTLENV); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalid, cacheTTLENV, v)
		}
		f.CacheTTL = ttl
	}
	if v := getenv(feeRateENV); v != "" {
		f.FeeRate = v
	}
	if v := getenv(chargeFeesENV); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalid, chargeFeesENV, v)
		}
		f.ChargeFees = &b
	}
	if v := getenv(logLevelENV); v != "" {
		f.LogLevel = v
	}

	return resolve(f)
}

func resolve(f File) (*Config, error) {
	c := &Config{
		Port:             f.Port,
		DatabaseURL:      f.DatabaseURL,
		RedisURL:         f.RedisURL,
		CacheTTL:         f.CacheTTL,
		ChargeFees:       f.ChargeFees != nil && *f.ChargeFees,
		MaxOpenPositions: f.Risk.MaxOpenPositions,
		Leverage:         make(map[string]decimal.Decimal, len(f.Leverage)),
		Quotes:           make(map[string]decimal.Decimal, len(f.Quotes)),
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("%w: port %q", ErrInvalid, c.Port)
	}
	if c.CacheTTL <= 0 {
		return nil, fmt.Errorf("%w: cache_ttl must be positive", ErrInvalid)
	}
	if err := c.LogLevel.UnmarshalText([]byte(strings.TrimSpace(f.LogLevel))); err != nil {
		return nil, fmt.Errorf("%w: log_level %q", ErrInvalid, f.LogLevel)
	}

	var err error
	if c.FeeRate, err = parseDecimal("fee_rate", f.FeeRate); err != nil {
		return nil, err
	}
	if c.FeeRate.IsNegative() {
		return nil, fmt.Errorf("%w: fee_rate must not be negative", ErrInvalid)
	}

	for marketType, raw := range f.Leverage {
		lev, err := parseDecimal("leverage."+marketType, raw)
		if err != nil {
			return nil, err
		}
		if !lev.IsPositive() {
			return nil, fmt.Errorf("%w: leverage.%s must be positive", ErrInvalid, marketType)
		}
		c.Leverage[marketType] = lev
	}

	if c.MaxOpenPositions < 0 {
		return nil, fmt.Errorf("%w: risk.max_open_positions must not be negative", ErrInvalid)
	}
	if c.MaxOrderNotional, err = parseDecimal("risk.max_order_notional", f.Risk.MaxOrderNotional); err != nil {
		return nil, err
	}
	if c.MaxClassExposure, err = parseDecimal("risk.max_class_exposure", f.Risk.MaxClassExposure); err != nil {
		return nil, err
	}

	for symbol, raw := range f.Quotes {
		p, err := parseDecimal("quotes."+symbol, raw)
		if err != nil {
			return nil, err
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("%w: quotes.%s must be positive", ErrInvalid, symbol)
		}
		c.Quotes[symbol] = p
	}
	return c, nil
}

// parseDecimal parses s; an empty string is zero.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrInvalid, field, s)
	}
	return v, nil
}
