package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	State     StateConfig     `yaml:"state"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Timescale TimescaleConfig `yaml:"timescale"`

	// Credentials are never read from yaml; see LoadCredentials.
	Credentials Credentials `yaml:"-"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ExchangeConfig struct {
	Kind            string        `yaml:"kind"`
	BaseURL         string        `yaml:"base_url"`
	WSURL           string        `yaml:"ws_url"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	PriceMaxAge     time.Duration `yaml:"price_max_age"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ProductType     string        `yaml:"product_type"`
	MarginCoin      string        `yaml:"margin_coin"`
	MarginMode      string        `yaml:"margin_mode"`
	PaperPrice      float64       `yaml:"paper_price"`
	CallAttempts    int           `yaml:"call_attempts"`
	CallBackoff     time.Duration `yaml:"call_backoff"`
}

type StrategyConfig struct {
	Pairs                []string      `yaml:"pairs"`
	NotionalUSD          float64       `yaml:"notional_usd"`
	Size                 float64       `yaml:"size"`
	SizeDecimals         int32         `yaml:"size_decimals"`
	PriceDecimals        int32         `yaml:"price_decimals"`
	TPPercent            float64       `yaml:"tp_percent"`
	GrowthThreshold      float64       `yaml:"growth_threshold"`
	GridMultiplier       float64       `yaml:"grid_multiplier"`
	Ladder               []float64     `yaml:"ladder"`
	LadderMode           string        `yaml:"ladder_mode"`
	GridAnchor           string        `yaml:"grid_anchor"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	AuditEvery           int           `yaml:"audit_every"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	ConfirmAttempts      int           `yaml:"confirm_attempts"`
	SizeTolerance        float64       `yaml:"size_tolerance"`
	TriggerAttempts      int           `yaml:"trigger_attempts"`
	TriggerWidenPercent  float64       `yaml:"trigger_widen_percent"`
	CleanupAttempts      int           `yaml:"cleanup_attempts"`
	CleanupBackoff       time.Duration `yaml:"cleanup_backoff"`
	StartupMode          string        `yaml:"startup_mode"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	ShutdownFlatten      *bool         `yaml:"shutdown_flatten"`
}

type RiskConfig struct {
	MaxSideNotionalUSD float64 `yaml:"max_side_notional_usd"`
}

type StateConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	QueueSize              int           `yaml:"queue_size"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

const (
	ExchangeBitget = "bitget"
	ExchangePaper  = "paper"

	StartupClean  = "clean"
	StartupResume = "resume"

	AnchorMarket = "market"
	AnchorEntry  = "entry"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// SetPair replaces the configured pair list with a single command-line pair.
func (c *Config) SetPair(pair string) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair != "" {
		c.Strategy.Pairs = []string{pair}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}
	applyExchangeDefaults(&cfg.Exchange)
	applyStrategyDefaults(&cfg.Strategy)
	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendSQLite
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/fibo-hedge.db"
	}
	if cfg.State.RedisPrefix == "" {
		cfg.State.RedisPrefix = "fibo-hedge:"
	}
	if cfg.Telegram.QueueSize == 0 {
		cfg.Telegram.QueueSize = 64
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9101"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.API.Address == "" {
		cfg.API.Address = "127.0.0.1:8088"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func applyExchangeDefaults(ex *ExchangeConfig) {
	if ex.Kind == "" {
		ex.Kind = ExchangeBitget
	}
	if ex.BaseURL == "" {
		ex.BaseURL = "https://api.bitget.com"
	}
	if ex.WSURL == "" {
		ex.WSURL = "wss://ws.bitget.com/v2/ws/public"
	}
	if ex.WSPingInterval == 0 {
		ex.WSPingInterval = 25 * time.Second
	}
	if ex.ReconnectDelay == 0 {
		ex.ReconnectDelay = 3 * time.Second
	}
	if ex.PriceMaxAge == 0 {
		ex.PriceMaxAge = 5 * time.Second
	}
	if ex.CallTimeout == 0 {
		ex.CallTimeout = 10 * time.Second
	}
	if ex.RateLimitPerSec == 0 {
		ex.RateLimitPerSec = 8
	}
	if ex.RateLimitBurst == 0 {
		ex.RateLimitBurst = 4
	}
	if ex.ProductType == "" {
		ex.ProductType = "USDT-FUTURES"
	}
	if ex.MarginCoin == "" {
		ex.MarginCoin = "USDT"
	}
	if ex.MarginMode == "" {
		ex.MarginMode = "crossed"
	}
	if ex.PaperPrice == 0 {
		ex.PaperPrice = 100
	}
	if ex.CallAttempts == 0 {
		ex.CallAttempts = 3
	}
	if ex.CallBackoff == 0 {
		ex.CallBackoff = 300 * time.Millisecond
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	for i, pair := range s.Pairs {
		s.Pairs[i] = strings.ToUpper(strings.TrimSpace(pair))
	}
	if s.SizeDecimals == 0 {
		s.SizeDecimals = 3
	}
	if s.PriceDecimals == 0 {
		s.PriceDecimals = 2
	}
	if s.TPPercent == 0 {
		s.TPPercent = 0.5
	}
	if s.GrowthThreshold == 0 {
		s.GrowthThreshold = 1.5
	}
	if s.GridMultiplier == 0 {
		s.GridMultiplier = 1
	}
	if len(s.Ladder) == 0 {
		s.Ladder = []float64{0.2, 0.4, 0.6, 1.0, 1.6, 2.6}
	}
	if s.LadderMode == "" {
		s.LadderMode = "step"
	}
	if s.GridAnchor == "" {
		s.GridAnchor = AnchorMarket
	}
	if s.PollInterval == 0 {
		s.PollInterval = 3 * time.Second
	}
	if s.AuditEvery == 0 {
		s.AuditEvery = 15
	}
	if s.SettleDelay == 0 {
		s.SettleDelay = 800 * time.Millisecond
	}
	if s.ConfirmAttempts == 0 {
		s.ConfirmAttempts = 5
	}
	if s.SizeTolerance == 0 {
		s.SizeTolerance = 0.01
	}
	if s.TriggerAttempts == 0 {
		s.TriggerAttempts = 5
	}
	if s.TriggerWidenPercent == 0 {
		s.TriggerWidenPercent = 0.05
	}
	if s.CleanupAttempts == 0 {
		s.CleanupAttempts = 4
	}
	if s.CleanupBackoff == 0 {
		s.CleanupBackoff = 2 * time.Second
	}
	if s.StartupMode == "" {
		s.StartupMode = StartupClean
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 45 * time.Second
	}
	if s.ShutdownFlatten == nil {
		flatten := true
		s.ShutdownFlatten = &flatten
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("FIBO_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("FIBO_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("FIBO_TIMESCALE_DSN")); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	switch cfg.Exchange.Kind {
	case ExchangeBitget, ExchangePaper:
	default:
		return fmt.Errorf("exchange.kind %q must be bitget or paper", cfg.Exchange.Kind)
	}
	if cfg.Exchange.CallTimeout < 0 || cfg.Exchange.RateLimitPerSec < 0 {
		return errors.New("exchange call_timeout and rate_limit_per_sec must be >= 0")
	}
	if s.NotionalUSD <= 0 && s.Size <= 0 {
		return errors.New("strategy.notional_usd or strategy.size must be > 0")
	}
	if s.TPPercent <= 0 {
		return errors.New("strategy.tp_percent must be > 0")
	}
	if s.GrowthThreshold <= 1 {
		return errors.New("strategy.growth_threshold must be > 1")
	}
	if s.GridMultiplier <= 0 {
		return errors.New("strategy.grid_multiplier must be > 0")
	}
	if 1+s.GridMultiplier < s.GrowthThreshold {
		return fmt.Errorf("strategy.grid_multiplier %.4g grows a filled side to x%.4g, below growth_threshold %.4g", s.GridMultiplier, 1+s.GridMultiplier, s.GrowthThreshold)
	}
	if s.LadderMode != "step" && s.LadderMode != "cumulative" {
		return fmt.Errorf("strategy.ladder_mode %q must be step or cumulative", s.LadderMode)
	}
	if s.GridAnchor != AnchorMarket && s.GridAnchor != AnchorEntry {
		return fmt.Errorf("strategy.grid_anchor %q must be market or entry", s.GridAnchor)
	}
	if s.StartupMode != StartupClean && s.StartupMode != StartupResume {
		return fmt.Errorf("strategy.startup_mode %q must be clean or resume", s.StartupMode)
	}
	if s.PollInterval < 0 || s.SettleDelay < 0 || s.CleanupBackoff < 0 || s.ShutdownTimeout < 0 {
		return errors.New("strategy durations must be >= 0")
	}
	if s.AuditEvery < 0 || s.ConfirmAttempts < 0 || s.TriggerAttempts < 0 || s.CleanupAttempts < 0 {
		return errors.New("strategy attempt counts must be >= 0")
	}
	if s.SizeTolerance < 0 || s.SizeTolerance >= 1 {
		return errors.New("strategy.size_tolerance must be in [0, 1)")
	}
	if cfg.Risk.MaxSideNotionalUSD < 0 {
		return errors.New("risk.max_side_notional_usd must be >= 0")
	}
	switch cfg.State.Backend {
	case BackendSQLite:
	case BackendRedis:
		if strings.TrimSpace(cfg.State.RedisAddr) == "" {
			return errors.New("state.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend %q must be sqlite or redis", cfg.State.Backend)
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram token and chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// Validate checks the pair list, which may be set after Load from the command line.
func (c *Config) Validate() error {
	if len(c.Strategy.Pairs) == 0 {
		return errors.New("at least one pair is required (strategy.pairs or -pair)")
	}
	seen := make(map[string]struct{}, len(c.Strategy.Pairs))
	for _, pair := range c.Strategy.Pairs {
		if pair == "" {
			return errors.New("pair must not be empty")
		}
		if _, ok := seen[pair]; ok {
			return fmt.Errorf("pair %s listed twice", pair)
		}
		seen[pair] = struct{}{}
	}
	return validate(c)
}
