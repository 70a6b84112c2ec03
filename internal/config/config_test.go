package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.SessionTTL != 5*time.Minute || cfg.RateLimit != 10 || cfg.PINMaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TxRateLimit != 20 || cfg.TxRateWindow != time.Hour {
		t.Fatalf("unexpected transaction cap: %d per %s", cfg.TxRateLimit, cfg.TxRateWindow)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("expected a development secret")
	}
	if cfg.Cron.Sweep != "@every 1m" {
		t.Fatalf("unexpected sweep schedule %q", cfg.Cron.Sweep)
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("USSD_SESSION_TTL_SECONDS", "90")
	t.Setenv("AGENT_CODE_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("expected 90s session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.AgentCodeTTL != 2*time.Hour {
		t.Fatalf("expected 2h code ttl, got %s", cfg.AgentCodeTTL)
	}

	t.Setenv("AGENT_CODE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestLoadRequiresBackendsOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/afritokeni")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsDev() {
		t.Fatalf("production must not be dev")
	}
}
