// Package config provides configuration for the application wiring:
// store backend selection, window and tier parameters, HTTP settings,
// and auth.
package config

import (
	"errors"
	"time"
)

// StoreBackend selects which CoordinationStore implementation the
// application wires up.
type StoreBackend string

const (
	StoreInMemory StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
)

// Config captures every setting NewApplication needs to wire a running
// node. Defaults supplies a usable value for every field; Validate checks
// the config as given and does not fill in zero values.
type Config struct {
	StoreBackend StoreBackend
	RedisAddr    string
	RedisDB      int

	Window time.Duration

	TiersPath      string
	OverridesPath  string

	MaxInflight int64

	BreakerFailureThreshold int64
	BreakerOpenDuration     time.Duration
	BreakerHalfOpenMaxCalls int64

	HTTPListenAddr   string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration
	DrainTimeout     time.Duration
	MaxBodyBytes     int64

	EnableAuth bool
	APIKeys    map[string]struct{}

	MockMinOutputTokens int64
	MockMaxOutputTokens int64
	MockAvgOutputTokens int64

	LogLevel string

	TraceSampleRate int
}

// Defaults returns a Config with every field set to a usable default, per
// §6 of the specification's parameter table.
func Defaults() *Config {
	return &Config{
		StoreBackend:            StoreInMemory,
		RedisAddr:               "localhost:6379",
		Window:                  60 * time.Second,
		MaxInflight:             1024,
		BreakerFailureThreshold: 10,
		BreakerOpenDuration:     200 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 5,
		HTTPListenAddr:          ":8080",
		HTTPReadTimeout:         10 * time.Second,
		HTTPWriteTimeout:        30 * time.Second,
		HTTPIdleTimeout:         60 * time.Second,
		RequestTimeout:          30 * time.Second,
		DrainTimeout:            15 * time.Second,
		MaxBodyBytes:            1 << 20,
		MockMinOutputTokens:     50,
		MockMaxOutputTokens:     500,
		MockAvgOutputTokens:     150,
		LogLevel:                "info",
		TraceSampleRate:         100,
	}
}

// Validate reports a config error that would otherwise surface as a
// confusing failure deep in application startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if c.StoreBackend != StoreInMemory && c.StoreBackend != StoreRedis {
		return errors.New("store backend must be \"memory\" or \"redis\"")
	}
	if c.StoreBackend == StoreRedis && c.RedisAddr == "" {
		return errors.New("redis addr is required when store backend is redis")
	}
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	if c.HTTPListenAddr == "" {
		return errors.New("http listen addr is required")
	}
	if c.HTTPReadTimeout < 0 || c.HTTPWriteTimeout < 0 || c.HTTPIdleTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.MaxInflight < 0 {
		return errors.New("max inflight must not be negative")
	}
	if c.MockMinOutputTokens <= 0 || c.MockMaxOutputTokens < c.MockMinOutputTokens {
		return errors.New("mock output token bounds are invalid")
	}
	return nil
}

// Load builds a Config by layering the RATELIMIT_* overrides found in
// environ on top of Defaults. It reads no files itself; any .env file is
// loaded into the process environment by the caller beforehand.
func Load(environ []string) (*Config, error) {
	cfg := Defaults()
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
