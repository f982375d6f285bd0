// Package config loads missionrelayd's daemon-wide settings.
package config

import (
	"os"
	"testing"
)

func clearEnv() {
	envVars := []string{
		"MISSIONRELAY_PORT", "MISSIONRELAY_LOG_LEVEL",
		"MISSIONRELAY_DEBUG", "MISSIONRELAY_DEBUG_REQUESTS", "MISSIONRELAY_DEBUG_RESPONSES",
		"MISSIONRELAY_RATE_LIMIT", "MISSIONRELAY_RATE_LIMIT_REQUESTS",
		"MISSIONRELAY_RATE_LIMIT_WINDOW", "MISSIONRELAY_RATE_LIMIT_BURST",
		"MISSIONRELAY_AUTH", "MISSIONRELAY_AUTH_API_KEY", "MISSIONRELAY_AUTH_ALLOW_ANONYMOUS_HEALTH",
		"MISSIONRELAY_HTTP_TIMEOUT", "MISSIONRELAY_HOME", "MISSIONRELAY_REDIS_ADDR",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.RateLimitEnabled {
		t.Error("RateLimitEnabled should be false by default")
	}
	if cfg.AuthEnabled {
		t.Error("AuthEnabled should be false by default")
	}
	if !cfg.AuthAllowAnonymousHealth {
		t.Error("AuthAllowAnonymousHealth should default to true")
	}
	if cfg.HTTPClientTimeoutSec != 300 {
		t.Errorf("HTTPClientTimeoutSec = %d, want 300", cfg.HTTPClientTimeoutSec)
	}
	if cfg.CredentialsDir == "" {
		t.Error("CredentialsDir should default to a non-empty path")
	}
}

func TestLoadFromEnv_Port(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_PORT", "9000")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
}

func TestLoadFromEnv_InvalidPort(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_PORT", "not-a-number")
	defer clearEnv()

	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestLoadFromEnv_Debug(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_DEBUG", "true")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if !cfg.Debug || !cfg.DebugRequests || !cfg.DebugResponses {
		t.Error("MISSIONRELAY_DEBUG=true should cascade to DebugRequests and DebugResponses")
	}
}

func TestLoadFromEnv_RateLimit(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_RATE_LIMIT", "1")
	os.Setenv("MISSIONRELAY_RATE_LIMIT_REQUESTS", "100")
	os.Setenv("MISSIONRELAY_RATE_LIMIT_WINDOW", "120")
	os.Setenv("MISSIONRELAY_RATE_LIMIT_BURST", "20")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitRequests != 100 || cfg.RateLimitWindow != 120 || cfg.RateLimitBurst != 20 {
		t.Errorf("unexpected rate limit config: %+v", cfg)
	}
}

func TestLoadFromEnv_AuthRequiresKey(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_AUTH", "true")
	defer clearEnv()

	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected validation error when auth is enabled without an API key")
	}
}

func TestLoadFromEnv_AuthWithKey(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_AUTH", "true")
	os.Setenv("MISSIONRELAY_AUTH_API_KEY", "proxy-secret")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if !cfg.AuthEnabled || cfg.AuthAPIKey != "proxy-secret" {
		t.Errorf("unexpected auth config: %+v", cfg)
	}
}

func TestLoadFromEnv_AllowAnonymousHealthOptOut(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_AUTH_ALLOW_ANONYMOUS_HEALTH", "false")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.AuthAllowAnonymousHealth {
		t.Error("AuthAllowAnonymousHealth should be false after explicit opt-out")
	}
}

func TestLoadFromEnv_CredentialsDir(t *testing.T) {
	clearEnv()
	os.Setenv("MISSIONRELAY_HOME", "/tmp/missionrelay-test-home")
	defer clearEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.CredentialsDir != "/tmp/missionrelay-test-home" {
		t.Errorf("CredentialsDir = %q", cfg.CredentialsDir)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 0")
	}
}

func TestValidate_EmptyCredentialsDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CredentialsDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty credentials dir")
	}
}
