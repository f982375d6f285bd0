// Package config loads missionrelayd's ambient daemon settings from the
// environment. Provider/account/chain configuration lives in
// internal/credentials and internal/chain, not here — this package only
// covers the concerns that apply regardless of which chains or accounts
// are configured: the HTTP listener, logging, rate limiting, auth, and
// the credential-store root.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds missionrelayd's daemon-wide configuration.
type Config struct {
	// Server settings
	Port     int
	LogLevel string

	// Debug settings
	Debug          bool
	DebugRequests  bool
	DebugResponses bool

	// Rate limiting settings (token bucket per internal/proxy/ratelimit.go)
	RateLimitEnabled  bool
	RateLimitRequests int // requests per window
	RateLimitWindow   int // window in seconds
	RateLimitBurst    int // burst allowance

	// Authentication settings for the failover proxy (§4.8, §6)
	AuthEnabled              bool
	AuthAPIKey               string
	AuthAllowAnonymousHealth bool

	// HTTP client settings
	HTTPClientTimeoutSec int // non-streaming upstream timeout, §5 (default 300s)

	// CredentialsDir is the root directory for the tiered credential
	// store (internal/credentials) and chain/proxy-key persistence.
	CredentialsDir string

	// RedisAddr, if set, backs internal/health's cooldown ledger with a
	// shared store so multiple missionrelayd replicas observe the same
	// account cooldowns. Empty means in-process only.
	RedisAddr string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Port:                     8080,
		LogLevel:                 "info",
		RateLimitEnabled:         false,
		RateLimitRequests:        60,
		RateLimitWindow:          60,
		RateLimitBurst:           10,
		AuthEnabled:              false,
		AuthAllowAnonymousHealth: true,
		HTTPClientTimeoutSec:     300,
		CredentialsDir:           filepath.Join(home, ".missionrelay"),
	}
}

// LoadFromEnv loads configuration from environment variables, after first
// loading a .env file from the working directory if one is present (for a
// locally-run daemon; a missing .env is not an error).
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultConfig()

	if port := os.Getenv("MISSIONRELAY_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid MISSIONRELAY_PORT: %w", err)
		}
		cfg.Port = p
	}
	if logLevel := os.Getenv("MISSIONRELAY_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	cfg.Debug = isTruthy(os.Getenv("MISSIONRELAY_DEBUG"))
	cfg.DebugRequests = cfg.Debug || isTruthy(os.Getenv("MISSIONRELAY_DEBUG_REQUESTS"))
	cfg.DebugResponses = cfg.Debug || isTruthy(os.Getenv("MISSIONRELAY_DEBUG_RESPONSES"))

	cfg.RateLimitEnabled = isTruthy(os.Getenv("MISSIONRELAY_RATE_LIMIT"))
	if v := os.Getenv("MISSIONRELAY_RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MISSIONRELAY_RATE_LIMIT_REQUESTS: %w", err)
		}
		cfg.RateLimitRequests = n
	}
	if v := os.Getenv("MISSIONRELAY_RATE_LIMIT_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MISSIONRELAY_RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = n
	}
	if v := os.Getenv("MISSIONRELAY_RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MISSIONRELAY_RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}

	cfg.AuthEnabled = isTruthy(os.Getenv("MISSIONRELAY_AUTH"))
	cfg.AuthAPIKey = os.Getenv("MISSIONRELAY_AUTH_API_KEY")
	if v := os.Getenv("MISSIONRELAY_AUTH_ALLOW_ANONYMOUS_HEALTH"); v != "" && !isTruthy(v) {
		cfg.AuthAllowAnonymousHealth = false
	}

	if v := os.Getenv("MISSIONRELAY_HTTP_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MISSIONRELAY_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPClientTimeoutSec = n
	}

	if dir := os.Getenv("MISSIONRELAY_HOME"); dir != "" {
		cfg.CredentialsDir = dir
	}
	cfg.RedisAddr = os.Getenv("MISSIONRELAY_REDIS_ADDR")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.AuthEnabled && c.AuthAPIKey == "" {
		return fmt.Errorf("MISSIONRELAY_AUTH_API_KEY is required when MISSIONRELAY_AUTH is enabled")
	}
	if c.CredentialsDir == "" {
		return fmt.Errorf("credentials directory must not be empty")
	}
	return nil
}

func isTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}
