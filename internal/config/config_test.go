package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	t.Setenv("ALLOWED_FILE_TYPES", "")

	cfg := Load()

	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %q", cfg.Env)
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		t.Fatalf("access and refresh secrets must differ by default")
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %s", cfg.AccessTTL())
	}
	if len(cfg.AllowedFileTypes) != 1 || cfg.AllowedFileTypes[0] != "text/html" {
		t.Fatalf("unexpected allowed types: %v", cfg.AllowedFileTypes)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("UPLOAD_RATE_LIMIT", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DATABASE_URL", "postgres://x/y")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "300")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.UploadRateLimit != 10 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.UploadRateLimit)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if cfg.DBURL != "postgres://x/y" {
		t.Fatalf("expected DATABASE_URL to win, got %q", cfg.DBURL)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval)
	}
}
