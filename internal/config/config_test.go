package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"AUTH_MODE", "CREDENTIAL_CACHE_TTL", "TOOL_TIMEOUT", "RATE_LIMIT_FREE_PER_MINUTE", "PORT", "SERVER_PORT", "CORS_ALLOWED_ORIGINS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AuthMode != "required" {
		t.Fatalf("expected auth mode required, got %q", cfg.AuthMode)
	}
	if cfg.CredentialCacheTTL != 30*time.Second {
		t.Fatalf("expected 30s credential cache ttl, got %s", cfg.CredentialCacheTTL)
	}
	if cfg.ToolTimeout != 20*time.Second {
		t.Fatalf("expected 20s tool timeout, got %s", cfg.ToolTimeout)
	}
	if cfg.RateLimitGlobalPerMinute != 300 || cfg.RateLimitProPerMinute != 120 || cfg.RateLimitTrialPerMinute != 30 || cfg.RateLimitFreePerMinute != 10 {
		t.Fatalf("unexpected default rate limits: %+v", cfg)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS origin, got %v", cfg.CORSOrigins)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7070")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_WarehouseNeverFallsBackToDatabaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", " postgres://localhost/app ")
	unsetEnvWithCleanup(t, "WAREHOUSE_DATABASE_URL")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/app" {
		t.Fatalf("expected trimmed database url, got %q", cfg.DatabaseURL)
	}
	if cfg.WarehouseDatabaseURL != "" {
		t.Fatalf("expected warehouse url to stay unset, got %q", cfg.WarehouseDatabaseURL)
	}
}

func TestLoadConfig_TrustProxyHeaders(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "TRUST_PROXY_HEADERS")
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TrustProxyHeaders {
		t.Fatal("expected forwarded headers to be untrusted by default")
	}

	viper.Reset()
	setEnvWithCleanup(t, "TRUST_PROXY_HEADERS", "true")
	cfg, err = LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatal("expected TRUST_PROXY_HEADERS=true to be honoured")
	}
}

func TestLoadConfig_NegativeRateLimitDisablesScope(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RATE_LIMIT_GLOBAL_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitGlobalPerMinute != 0 {
		t.Fatalf("expected negative limit to be coerced to 0, got %d", cfg.RateLimitGlobalPerMinute)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "AUTH_MODE")
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")
	unsetEnvWithCleanup(t, "TOOL_TIMEOUT")

	dir := t.TempDir()
	body := "AUTH_MODE=Disabled\nCORS_ALLOWED_ORIGINS=https://a.example, https://b.example\nTOOL_TIMEOUT=5s\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AuthMode != "disabled" {
		t.Fatalf("expected auth mode from .env, got %q", cfg.AuthMode)
	}
	if cfg.ToolTimeout != 5*time.Second {
		t.Fatalf("expected 5s tool timeout from .env, got %s", cfg.ToolTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("expected two CORS origins, got %v", cfg.CORSOrigins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
