package config

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8081" || cfg.Backend.BaseURL != "http://localhost:8080/api" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Backend.Timeout != 10*time.Second || cfg.Session.StartGuardTTL != 15*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.Session.KeyPrefix != "medtrack" || cfg.Audit.Workers != 4 {
		t.Fatalf("unexpected session/audit defaults: %+v", cfg)
	}
}

func TestLoad_DefaultPortDiffersFromBackend(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		t.Fatalf("invalid default backend url: %v", err)
	}
	if u.Port() == cfg.Port {
		t.Fatalf("gateway default port %s points at the default backend %s", cfg.Port, cfg.Backend.BaseURL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"BACKEND_URL":       "https://backend.internal/api",
		"BACKEND_RETRY_MAX": "0",
		"START_GUARD_TTL":   "3s",
		"REDIS_DB":          "2",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://backend.internal/api" || cfg.Backend.RetryMax != 0 {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Session.StartGuardTTL != 3*time.Second || cfg.Redis.DB != 2 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoad_RejectsBadWorkers(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{"AUDIT_WORKERS": "0"}))
	if err == nil {
		t.Fatalf("expected error for zero workers")
	}
}
