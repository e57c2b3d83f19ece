package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{Strategy: StrategyConfig{Pairs: []string{"BTCUSDT"}, NotionalUSD: 50}}
}

func TestStrategyDefaults(t *testing.T) {
	cfg := baseConfig()
	applyDefaults(cfg)
	s := cfg.Strategy
	if s.GrowthThreshold != 1.5 {
		t.Fatalf("expected growth threshold 1.5, got %v", s.GrowthThreshold)
	}
	if s.TriggerAttempts != 5 {
		t.Fatalf("expected 5 trigger attempts, got %d", s.TriggerAttempts)
	}
	if s.TriggerWidenPercent != 0.05 {
		t.Fatalf("expected widen 0.05, got %v", s.TriggerWidenPercent)
	}
	if s.GridAnchor != AnchorMarket || s.LadderMode != "step" {
		t.Fatalf("unexpected anchor/mode defaults %q/%q", s.GridAnchor, s.LadderMode)
	}
	if len(s.Ladder) == 0 {
		t.Fatalf("expected default ladder")
	}
	if s.StartupMode != StartupClean {
		t.Fatalf("expected clean startup default, got %q", s.StartupMode)
	}
	if s.ShutdownFlatten == nil || !*s.ShutdownFlatten {
		t.Fatalf("expected shutdown flatten default")
	}
	if s.AuditEvery <= 0 || s.ConfirmAttempts <= 0 || s.CleanupAttempts <= 0 {
		t.Fatalf("expected positive attempt defaults: %+v", s)
	}
}

func TestExchangeDefaults(t *testing.T) {
	cfg := baseConfig()
	applyDefaults(cfg)
	if cfg.Exchange.Kind != ExchangeBitget {
		t.Fatalf("expected bitget default, got %q", cfg.Exchange.Kind)
	}
	if cfg.Exchange.CallTimeout != 10*time.Second {
		t.Fatalf("expected 10s call timeout, got %v", cfg.Exchange.CallTimeout)
	}
	if cfg.Exchange.ProductType != "USDT-FUTURES" {
		t.Fatalf("unexpected product type %q", cfg.Exchange.ProductType)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := baseConfig()
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestPairsNormalized(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Pairs: []string{" btcusdt "}, NotionalUSD: 1}}
	applyDefaults(cfg)
	if cfg.Strategy.Pairs[0] != "BTCUSDT" {
		t.Fatalf("expected normalized pair, got %q", cfg.Strategy.Pairs[0])
	}
	cfg.SetPair("ethusdt")
	if len(cfg.Strategy.Pairs) != 1 || cfg.Strategy.Pairs[0] != "ETHUSDT" {
		t.Fatalf("expected pair override, got %v", cfg.Strategy.Pairs)
	}
}

func TestValidateRequiresSizing(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Pairs: []string{"BTCUSDT"}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing notional and size")
	}
}

func TestValidateRejectsGrowthThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.GrowthThreshold = 1
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for growth threshold <= 1")
	}
}

func TestValidateRejectsMultiplierBelowGrowth(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.GridMultiplier = 0.3
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error when a filled grid cannot reach the growth threshold")
	}
	cfg.Strategy.GridMultiplier = 0.5
	if err := validate(cfg); err != nil {
		t.Fatalf("expected multiplier matching the threshold to pass, got %v", err)
	}
}

func TestValidateRejectsUnknownAnchor(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.GridAnchor = "moon"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown anchor")
	}
}

func TestValidateRequiresPairs(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{NotionalUSD: 1}}
	applyDefaults(cfg)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing pairs")
	}
	cfg.Strategy.Pairs = []string{"BTCUSDT", "BTCUSDT"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for duplicate pairs")
	}
}

func TestValidateRedisNeedsAddr(t *testing.T) {
	cfg := baseConfig()
	cfg.State.Backend = BackendRedis
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for redis without address")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	t.Setenv("FIBO_TELEGRAM_TOKEN", "")
	t.Setenv("FIBO_TELEGRAM_CHAT_ID", "")
	cfg := baseConfig()
	cfg.Telegram.Enabled = true
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestTelegramEnvOverridesConfig(t *testing.T) {
	t.Setenv("FIBO_TELEGRAM_TOKEN", "env-token")
	t.Setenv("FIBO_TELEGRAM_CHAT_ID", "123")
	cfg := baseConfig()
	cfg.Telegram = TelegramConfig{Enabled: true, Token: "config-token", ChatID: "999"}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "123" {
		t.Fatalf("expected env overrides, got %+v", cfg.Telegram)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
exchange:
  kind: paper
strategy:
  pairs: [ethusdt]
  notional_usd: 25
  tp_percent: 0.8
  ladder: [0.3, 0.5, 0.8]
  ladder_mode: cumulative
  grid_anchor: entry
  poll_interval: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.Kind != ExchangePaper {
		t.Fatalf("expected paper exchange, got %q", cfg.Exchange.Kind)
	}
	if cfg.Strategy.Pairs[0] != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT, got %v", cfg.Strategy.Pairs)
	}
	if cfg.Strategy.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %v", cfg.Strategy.PollInterval)
	}
	if cfg.Strategy.GridAnchor != AnchorEntry || cfg.Strategy.LadderMode != "cumulative" {
		t.Fatalf("unexpected anchor/mode %q/%q", cfg.Strategy.GridAnchor, cfg.Strategy.LadderMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
