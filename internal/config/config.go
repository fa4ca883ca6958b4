// Package config
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

/*
YAML config example:
binance_api_key: "..."
binance_api_secret: "..."
db_conn_str: "postgres://..."
symbols: ["BTCUSDT", "ETHUSDT"]
timeframe: "15m"
leverage: 3
sizing_mode: "risk"
risk_per_trade_pct: 0.01
max_exposure_usd: 500
max_total_exposure_usd: 1000
ladder:
  - { name: "P1", trigger_pct: 0.003, close_frac: 0.05 }
  - { name: "P2", trigger_pct: 0.004, close_frac: 0.05 }
...
*/

// LadderLevel is one fixed partial-profit level: when the unleveraged PnL
// reaches TriggerPct, CloseFrac of the remaining size is taken off.
type LadderLevel struct {
	Name       string  `yaml:"name"`
	TriggerPct float64 `yaml:"trigger_pct"`
	CloseFrac  float64 `yaml:"close_frac"`
}

// SizingMode selects how entry size is derived from account balance.
type SizingMode string

const (
	// SizingRisk risks RiskPerTradePct of balance against the stop distance.
	SizingRisk SizingMode = "risk"
	// SizingFixed opens FixedExposureUSD of notional regardless of stop.
	SizingFixed SizingMode = "fixed"
)

type Config struct {
	// Exchange access
	BinanceAPIKey    string `yaml:"binance_api_key"`
	BinanceAPISecret string `yaml:"binance_api_secret"`
	UseTestnet       bool   `yaml:"use_testnet"`

	// Persistence
	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`
	StateFile string `yaml:"state_file"`
	ReportDir string `yaml:"report_dir"`

	// Notifications and observability
	TelegramToken       string        `yaml:"telegram_token"`
	TelegramChatID      string        `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`
	MetricsAddr         string        `yaml:"metrics_addr"`

	// Universe
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`

	// Sizing and risk
	Leverage             int           `yaml:"leverage"`
	SizingMode           SizingMode    `yaml:"sizing_mode"`
	RiskPerTradePct      float64       `yaml:"risk_per_trade_pct"`
	FixedExposureUSD     float64       `yaml:"fixed_exposure_usd"`
	MaxExposureUSD       float64       `yaml:"max_exposure_usd"`
	MaxTotalExposureUSD  float64       `yaml:"max_total_exposure_usd"`
	MaxOpenSymbols       int           `yaml:"max_open_symbols"`
	MaxTradesPerHour     int           `yaml:"max_trades_per_hour"`
	DailyDrawdownLimit   float64       `yaml:"daily_drawdown_limit"`
	CommissionRate       float64       `yaml:"commission_rate"`
	SymbolCooldown       time.Duration `yaml:"symbol_cooldown"`
	CorrelationThreshold float64       `yaml:"correlation_threshold"`

	// Entry filters. ATR and spread bounds are percent of price, the
	// funding bound is percent per funding interval.
	ATRMinPct     float64 `yaml:"atr_min_pct"`
	ATRMaxPct     float64 `yaml:"atr_max_pct"`
	MaxSpreadPct  float64 `yaml:"max_spread_pct"`
	MaxFundingPct float64 `yaml:"max_funding_pct"`
	FundingGate   bool    `yaml:"funding_gate"`

	// Partial-profit ladder
	Ladder           []LadderLevel `yaml:"ladder"`
	DynamicStartPct  float64       `yaml:"dynamic_start_pct"`
	DynamicStepPct   float64       `yaml:"dynamic_step_pct"`
	DynamicCloseFrac float64       `yaml:"dynamic_close_frac"`

	// Stop management. The breakeven trigger is leveraged return on
	// margin, the offset is the price distance past entry.
	BreakevenTriggerROI float64 `yaml:"breakeven_trigger_roi"`
	BreakevenOffsetPct  float64 `yaml:"breakeven_offset_pct"`

	// Scheduler and health probe
	TickInterval      time.Duration `yaml:"tick_interval"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LatencyPauseMs    float64       `yaml:"latency_pause_ms"`
	LatencyResumeMs   float64       `yaml:"latency_resume_ms"`
	LatencyResumeHits int           `yaml:"latency_resume_hits"`

	// Venue call retries
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultUniverse is the 30-symbol USD-M futures watchlist scanned every
// strategy cycle.
var DefaultUniverse = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "TRXUSDT", "DOTUSDT",
	"POLUSDT", "LINKUSDT", "LTCUSDT", "BCHUSDT", "ATOMUSDT",
	"UNIUSDT", "ETCUSDT", "FILUSDT", "NEARUSDT", "XMRUSDT",
	"XLMUSDT", "HBARUSDT", "APTUSDT", "ARBUSDT", "OPUSDT",
	"RENDERUSDT", "INJUSDT", "STXUSDT", "SUIUSDT", "TIAUSDT",
}

// DefaultLadder secures base profit in six small slices before the dynamic
// levels take over.
func DefaultLadder() []LadderLevel {
	return []LadderLevel{
		{Name: "P1", TriggerPct: 0.003, CloseFrac: 0.05},
		{Name: "P2", TriggerPct: 0.004, CloseFrac: 0.05},
		{Name: "P3", TriggerPct: 0.005, CloseFrac: 0.05},
		{Name: "P4", TriggerPct: 0.006, CloseFrac: 0.05},
		{Name: "P5", TriggerPct: 0.008, CloseFrac: 0.05},
		{Name: "P6", TriggerPct: 0.010, CloseFrac: 0.05},
	}
}

// Defaults returns the baseline configuration before flags, file, and
// environment are applied.
func Defaults() Config {
	return Config{
		DBMaxOpen: 10,
		DBMaxIdle: 5,
		StateFile: "bot_state.json",
		ReportDir: "reports",

		NotificationRetries: 3,
		NotificationDelay:   5 * time.Second,
		MetricsAddr:         ":9141",

		Symbols:   DefaultUniverse,
		Timeframe: "15m",

		Leverage:             3,
		SizingMode:           SizingRisk,
		RiskPerTradePct:      0.01,
		FixedExposureUSD:     150,
		MaxExposureUSD:       500,
		MaxTotalExposureUSD:  1000,
		MaxOpenSymbols:       3,
		MaxTradesPerHour:     3,
		DailyDrawdownLimit:   0.03,
		CommissionRate:       0.0005,
		SymbolCooldown:       30 * time.Minute,
		CorrelationThreshold: 0.75,

		ATRMinPct:     0.20,
		ATRMaxPct:     2.5,
		MaxSpreadPct:  0.03,
		MaxFundingPct: 0.03,
		FundingGate:   false,

		Ladder:           DefaultLadder(),
		DynamicStartPct:  0.010,
		DynamicStepPct:   0.001,
		DynamicCloseFrac: 0.05,

		BreakevenTriggerROI: 0.008,
		BreakevenOffsetPct:  0.002,

		TickInterval:      100 * time.Millisecond,
		MonitorInterval:   2 * time.Second,
		HeartbeatInterval: time.Minute,
		LatencyPauseMs:    800,
		LatencyResumeMs:   500,
		LatencyResumeHits: 3,

		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("config: timeframe must be set")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("config: leverage must be positive, got %d", c.Leverage)
	}
	if c.SizingMode != SizingRisk && c.SizingMode != SizingFixed {
		return fmt.Errorf("config: unknown sizing mode %q", c.SizingMode)
	}
	if c.MaxOpenSymbols <= 0 {
		return fmt.Errorf("config: max_open_symbols must be positive, got %d", c.MaxOpenSymbols)
	}
	if len(c.Ladder) == 0 {
		return fmt.Errorf("config: ladder must have at least one level")
	}
	prev := 0.0
	for _, lvl := range c.Ladder {
		if lvl.Name == "" {
			return fmt.Errorf("config: ladder level missing name")
		}
		if lvl.TriggerPct <= prev {
			return fmt.Errorf("config: ladder triggers must be strictly increasing, %q at %.4f", lvl.Name, lvl.TriggerPct)
		}
		if lvl.CloseFrac <= 0 || lvl.CloseFrac >= 1 {
			return fmt.Errorf("config: ladder close fraction out of range for %q", lvl.Name)
		}
		prev = lvl.TriggerPct
	}
	if c.DynamicStepPct <= 0 || c.DynamicCloseFrac <= 0 {
		return fmt.Errorf("config: dynamic ladder parameters must be positive")
	}
	if c.LatencyResumeMs >= c.LatencyPauseMs {
		return fmt.Errorf("config: latency_resume_ms must be below latency_pause_ms")
	}
	return nil
}

// LadderNames returns the ladder level names in trigger order.
func (c Config) LadderNames() []string {
	names := make([]string, len(c.Ladder))
	for i, lvl := range c.Ladder {
		names[i] = lvl.Name
	}
	return names
}

func loadConfig() (Config, error) {
	// Secrets come from the environment; a local .env is honoured when
	// present.
	_ = godotenv.Load()

	configFile := flag.String("config", "", "Path to YAML config file")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbol override")
	stateFile := flag.String("state-file", "", "Path to the JSON state file")
	testnet := flag.Bool("testnet", false, "Use the Binance futures testnet")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address")
	flag.Parse()

	cfg := Defaults()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if *symbolsFlag != "" {
		cfg.Symbols = strings.Split(*symbolsFlag, ",")
	}
	if *stateFile != "" {
		cfg.StateFile = *stateFile
	}
	if *testnet {
		cfg.UseTestnet = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.BinanceAPIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.BinanceAPISecret = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DBConnStr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.TelegramChatID = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MustLoadConfig parses flags, the optional YAML file, and the environment,
// and exits on invalid input.
func MustLoadConfig() Config {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Config | %v", err)
	}
	return cfg
}
