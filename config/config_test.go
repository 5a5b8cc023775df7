package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polymarket-copybot/engine"
)

const target = "0x1234567890abcdef1234567890abcdef12345678"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copybot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Engine.Multiplier != 0.5 || cfg.Engine.MinUSD != 5 || cfg.Engine.MaxUSD != 50 {
		t.Errorf("unexpected sizing defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.Slippage != 0.01 || cfg.Engine.MaxPosition != 10 {
		t.Errorf("unexpected risk defaults: %+v", cfg.Engine)
	}
	if !cfg.Engine.PaperMode {
		t.Error("paper mode should default on")
	}
	if cfg.Feeds.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %s, want 30s", cfg.Feeds.PollInterval)
	}
	if cfg.Engine.DedupTTL != 24*time.Hour {
		t.Errorf("dedup ttl = %s, want 24h", cfg.Engine.DedupTTL)
	}
	if cfg.Feeds.MarketWS.PingInterval != 25*time.Second {
		t.Errorf("ping interval = %s, want 25s", cfg.Feeds.MarketWS.PingInterval)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
targets:
  - "0x1234567890ABCDEF1234567890abcdef12345678"
engine:
  multiplier: 0.25
  max_usd: 100
  dedup_ttl: 2h
feeds:
  poll_interval: 15s
storage:
  driver: memory
`)
	t.Setenv("COPYBOT_ENGINE_SLIPPAGE", "0.02")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.Multiplier != 0.25 {
		t.Errorf("multiplier = %v, want 0.25", cfg.Engine.Multiplier)
	}
	if cfg.Engine.MaxUSD != 100 {
		t.Errorf("max_usd = %v, want 100", cfg.Engine.MaxUSD)
	}
	if cfg.Engine.MinUSD != 5 {
		t.Errorf("min_usd = %v, want default 5", cfg.Engine.MinUSD)
	}
	if cfg.Engine.Slippage != 0.02 {
		t.Errorf("slippage = %v, want env 0.02", cfg.Engine.Slippage)
	}
	if cfg.Engine.DedupTTL != 2*time.Hour {
		t.Errorf("dedup_ttl = %s, want 2h", cfg.Engine.DedupTTL)
	}
	if cfg.Feeds.PollInterval != 15*time.Second {
		t.Errorf("poll_interval = %s, want 15s", cfg.Feeds.PollInterval)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0] != target {
		t.Errorf("targets = %v, want normalized %s", cfg.Targets, target)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_LegacyEnv(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: memory\n")
	t.Setenv("TRADE_MULTIPLIER", "0.8")
	t.Setenv("MIN_TRADE_USD", "1")
	t.Setenv("MAX_TRADE_USD", "25")
	t.Setenv("MAX_POSITION", "200")
	t.Setenv("PAPER_MODE", "false")
	t.Setenv("POLL_INTERVAL", "12")
	t.Setenv("TARGET_WALLETS", target+", 0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD")
	t.Setenv("PRIVATE_KEY", "deadbeef")
	t.Setenv("MAX_DAILY_LOSS_USD", "40")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.Multiplier != 0.8 || cfg.Engine.MinUSD != 1 || cfg.Engine.MaxUSD != 25 {
		t.Errorf("sizing not overridden: %+v", cfg.Engine)
	}
	if cfg.Engine.MaxPosition != 200 {
		t.Errorf("max_position = %v, want 200", cfg.Engine.MaxPosition)
	}
	if cfg.Engine.PaperMode {
		t.Error("PAPER_MODE=false not applied")
	}
	if cfg.Feeds.PollInterval != 12*time.Second {
		t.Errorf("poll interval = %s, want 12s", cfg.Feeds.PollInterval)
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("targets = %v, want 2", cfg.Targets)
	}
	if cfg.Polymarket.PrivateKey != "deadbeef" {
		t.Error("PRIVATE_KEY not applied")
	}
	if cfg.Risk.MaxDailyLossUSD != 40 {
		t.Errorf("max daily loss = %v, want 40", cfg.Risk.MaxDailyLossUSD)
	}
}

func TestLoad_InvalidLegacyEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("TRADE_MULTIPLIER", "half")

	if _, err := Load(path); err == nil {
		t.Error("expected error for non-numeric TRADE_MULTIPLIER")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Targets = []string{target}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no targets", func(c *Config) { c.Targets = nil }, true},
		{"bad target", func(c *Config) { c.Targets = []string{"0xnope"} }, true},
		{"engine bounds", func(c *Config) { c.Engine.Multiplier = 2 }, true},
		{"live without key", func(c *Config) { c.Engine.PaperMode = false }, true},
		{"live with key", func(c *Config) {
			c.Engine.PaperMode = false
			c.Polymarket.PrivateKey = "abc"
		}, false},
		{"no feeds", func(c *Config) { c.Feeds.DataAPI.Enabled = false }, true},
		{"ws without data api", func(c *Config) {
			c.Feeds.DataAPI.Enabled = false
			c.Feeds.MarketWS.Enabled = true
		}, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"negative loss limit", func(c *Config) { c.Risk.MaxDailyLossUSD = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_WrapsEngineError(t *testing.T) {
	cfg := Default()
	cfg.Targets = []string{target}
	cfg.Engine.Slippage = 1

	if err := cfg.Validate(); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("err = %v, want engine.ErrInvalidConfig", err)
	}
}

func TestYAML_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Polymarket.PrivateKey = "0xverysecretprivatekey"
	cfg.Polymarket.APISecret = "apisecretvalue"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "verysecret") || strings.Contains(s, "apisecret") {
		t.Errorf("secrets leaked:\n%s", s)
	}
	if !strings.Contains(s, "****ekey") {
		t.Errorf("masked key missing:\n%s", s)
	}
	if cfg.Polymarket.PrivateKey != "0xverysecretprivatekey" {
		t.Error("Masked() mutated the original")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("COPYBOT_TEST_ENV_VALUE=hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COPYBOT_TEST_ENV_VALUE", "")
	os.Unsetenv("COPYBOT_TEST_ENV_VALUE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("COPYBOT_TEST_ENV_VALUE"); got != "hello" {
		t.Errorf("env = %q, want hello", got)
	}
}
