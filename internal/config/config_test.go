package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PARLEY_DEV_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Storage.SessionCacheTTL != 5*time.Minute {
		t.Errorf("cache ttl = %s", cfg.Storage.SessionCacheTTL)
	}
	if cfg.Reaper.SessionTTLDays != 30 {
		t.Errorf("session ttl days = %d", cfg.Reaper.SessionTTLDays)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	body := `
server:
  listen_addr: ":9000"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
storage:
  backend: sqlite
  data_dir: /var/lib/parley
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_JWT_SECRET", "expanded-secret")
	t.Setenv("PARLEY_LISTEN_ADDR", ":7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env beats file.
	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen addr = %q, want env override", cfg.Server.ListenAddr)
	}
	// File expansion worked.
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DataDir != "/var/lib/parley" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadPricing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	body := `
auth:
  dev_mode: true
pricing:
  sonnet:
    input_per_1k: 0.004
    output_per_1k: 0.02
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARLEY_PRICING", `{"claude-opus-4": {"input_per_1k": 0.02, "output_per_1k": 0.1}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if rate := cfg.Pricing["sonnet"]; rate.InputPer1K != 0.004 || rate.OutputPer1K != 0.02 {
		t.Errorf("file pricing = %+v", rate)
	}
	// Env entries merge alongside file entries.
	if rate := cfg.Pricing["claude-opus-4"]; rate.InputPer1K != 0.02 || rate.OutputPer1K != 0.1 {
		t.Errorf("env pricing = %+v", rate)
	}
}

func TestValidateRejectsNegativeRate(t *testing.T) {
	cfg := Default()
	cfg.Auth.DevMode = true
	cfg.Pricing = map[string]ModelRate{"sonnet": {InputPer1K: -1}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative rate accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := Default()
	bad.Auth.JWTSecret = "s"
	bad.Storage.Backend = "cassandra"
	if err := bad.Validate(); err == nil {
		t.Error("unknown backend accepted")
	}

	insecure := Default()
	insecure.Auth.JWTSecret = ""
	insecure.Auth.DevMode = false
	if err := insecure.Validate(); err == nil {
		t.Error("missing jwt secret accepted without dev mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/parley.yaml"); err == nil {
		t.Error("missing file accepted")
	}
}
