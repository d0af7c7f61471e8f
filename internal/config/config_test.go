package config

import (
	"testing"
	"time"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LEDGER_PEER_URL", "")
}

func TestLoadDevAllowsMissingBackends(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	clearBackendEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("dev load must tolerate missing backends: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected dev environment, got %s", cfg.AppEnv)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" || cfg.LedgerPeerURL != "" {
		t.Fatalf("unexpected backend urls: %+v", cfg)
	}
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	clearBackendEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("production load must reject missing backends")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/tokenmart")
	if _, err := Load(); err == nil {
		t.Fatal("production load must reject missing redis")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	if _, err := Load(); err == nil {
		t.Fatal("production load must reject missing ledger peer")
	}

	t.Setenv("LEDGER_PEER_URL", "http://ledger-peer:7051")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with all backends: %v", err)
	}
	if cfg.IsDev() {
		t.Fatalf("production must not report dev, got %s", cfg.AppEnv)
	}
}

func TestLoadParsesTimeoutOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	clearBackendEnv(t)
	t.Setenv("LEDGER_INVOKE_TIMEOUT_SECONDS", "60")
	t.Setenv("LEDGER_EVALUATE_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InvokeTimeout != 60*time.Second {
		t.Fatalf("expected 60s invoke timeout, got %s", cfg.InvokeTimeout)
	}
	if cfg.EvaluateTimeout != 2*time.Second {
		t.Fatalf("expected 2s evaluate timeout, got %s", cfg.EvaluateTimeout)
	}
}
