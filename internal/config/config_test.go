package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
chain:
  rpc_url: "https://rpc.example.com"
  requests_per_second: 5
rates:
  ttl: 2m
  pairs:
    - symbol: ETH
      currency: USD
    - symbol: ETH
      currency: PHP
redis:
  addr: "localhost:6379"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Fatalf("listen addr not applied: %q", cfg.Server.ListenAddr)
	}
	if cfg.Chain.RPCURL != "https://rpc.example.com" {
		t.Fatalf("rpc url not applied: %q", cfg.Chain.RPCURL)
	}
	if cfg.Rates.TTL != 2*time.Minute {
		t.Fatalf("ttl not applied: %v", cfg.Rates.TTL)
	}
	if len(cfg.Rates.Pairs) != 2 || cfg.Rates.Pairs[1].Currency != "PHP" {
		t.Fatalf("pairs not applied: %+v", cfg.Rates.Pairs)
	}
	// Unset fields keep their defaults.
	if cfg.Payments.SendTimeout != 30*time.Second {
		t.Fatalf("default send timeout lost: %v", cfg.Payments.SendTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ""
`)
	if _, err := LoadFromPath(path); err == nil {
		t.Fatalf("expected validation error for empty listen addr")
	}

	path = writeConfig(t, `
rates:
  pairs:
    - symbol: ETH
`)
	if _, err := LoadFromPath(path); err == nil {
		t.Fatalf("expected validation error for incomplete pair")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WALLETD_RPC_URL", "https://override.example.com")
	t.Setenv("WALLETD_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("WALLETD_REDIS_DB", "3")

	path := writeConfig(t, `
chain:
  rpc_url: "https://file.example.com"
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "https://override.example.com" {
		t.Fatalf("env override not applied: %q", cfg.Chain.RPCURL)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 3 {
		t.Fatalf("redis env overrides not applied: %+v", cfg.Redis)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()
	if cfg.Server.ListenAddr == "" || cfg.Chain.RPCURL == "" {
		t.Fatalf("defaults incomplete: %+v", cfg)
	}
}

func TestDefaultValid(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
