package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"llm-backtester/internal/candle"
	"llm-backtester/internal/types"
)

// DateLayout is the layout of start_date and end_date, read as KST.
const DateLayout = "2006-01-02 15:04:05"

type Config struct {
	SystemName  string  `yaml:"system_name"`
	Market      string  `yaml:"market"`
	CandleUnit  string  `yaml:"candle_unit"`
	StartDate   string  `yaml:"start_date"`
	EndDate     string  `yaml:"end_date"`
	InitialCash float64 `yaml:"initial_cash"`
	FeeRatePct  float64 `yaml:"fee_rate_pct"`
	DataSource  string  `yaml:"data_source"`
	Warmup      struct {
		Enabled *bool `yaml:"enabled"`
		Limit   int   `yaml:"limit"`
	} `yaml:"warmup"`
	Records struct {
		Dir    string `yaml:"dir"`
		Policy string `yaml:"policy"`
	} `yaml:"records"`
	Upbit struct {
		BaseURL           string  `yaml:"base_url"`
		MaxAttempts       int     `yaml:"max_attempts"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
	} `yaml:"upbit"`
	Archive struct {
		Dir   string `yaml:"dir"`
		Write bool   `yaml:"write"`
	} `yaml:"archive"`
	Indicators struct {
		SMAWindows []int   `yaml:"sma_windows"`
		RSIPeriod  int     `yaml:"rsi_period"`
		BBWindow   int     `yaml:"bb_window"`
		BBStdDev   float64 `yaml:"bb_stddev"`
		ATRPeriod  int     `yaml:"atr_period"`
	} `yaml:"indicators"`
	LLM struct {
		AnalysisModel string  `yaml:"analysis_model"`
		TradingModel  string  `yaml:"trading_model"`
		MaxTokens     int     `yaml:"max_tokens"`
		Temperature   float32 `yaml:"temperature"`
		History       int     `yaml:"history"`
	} `yaml:"llm"`
	Analysis struct {
		RiskFreeRate   float64 `yaml:"risk_free_rate"`
		PeriodsPerYear float64 `yaml:"periods_per_year"`
	} `yaml:"analysis"`
	Runs struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"runs"`
	Logs struct {
		Dir string `yaml:"dir"`
	} `yaml:"logs"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.SystemName) == "" {
		return errors.New("system_name cannot be empty")
	}
	if strings.TrimSpace(c.Market) == "" {
		return errors.New("market cannot be empty")
	}
	start, err := c.Start()
	if err != nil {
		return fmt.Errorf("invalid start_date '%s': %w", c.StartDate, err)
	}
	end, err := c.End()
	if err != nil {
		return fmt.Errorf("invalid end_date '%s': %w", c.EndDate, err)
	}
	if !start.Before(end) {
		return fmt.Errorf("start_date %s must be before end_date %s", c.StartDate, c.EndDate)
	}
	if c.InitialCash < 0 {
		return fmt.Errorf("initial_cash must be >= 0, got %.2f", c.InitialCash)
	}
	if c.FeeRatePct < 0 || c.FeeRatePct >= 100 {
		return fmt.Errorf("fee_rate_pct must be in [0, 100), got %.4f", c.FeeRatePct)
	}
	if c.DataSource != "UPBIT" && c.DataSource != "ARCHIVE" {
		return fmt.Errorf("invalid data_source '%s': must be 'UPBIT' or 'ARCHIVE'", c.DataSource)
	}
	if c.Records.Policy != "FRESH" && c.Records.Policy != "RESUME" {
		return fmt.Errorf("records.policy must be 'FRESH' or 'RESUME', got '%s'", c.Records.Policy)
	}
	if c.Upbit.MaxAttempts < 1 {
		return fmt.Errorf("upbit.max_attempts must be >= 1, got %d", c.Upbit.MaxAttempts)
	}
	if c.Analysis.PeriodsPerYear <= 0 {
		return fmt.Errorf("analysis.periods_per_year must be > 0, got %.2f", c.Analysis.PeriodsPerYear)
	}
	return nil
}

func (c *Config) Start() (time.Time, error) {
	return time.ParseInLocation(DateLayout, c.StartDate, types.KST)
}

func (c *Config) End() (time.Time, error) {
	return time.ParseInLocation(DateLayout, c.EndDate, types.KST)
}

// FeeRate is the per-trade fee as a fraction (fee_rate_pct 0.08 -> 0.0008).
func (c *Config) FeeRate() float64 {
	return c.FeeRatePct / 100
}

func (c *Config) WarmupEnabled() bool {
	return c.Warmup.Enabled == nil || *c.Warmup.Enabled
}

// RecordsPath is the ledger table location, one file per system name.
func (c *Config) RecordsPath() string {
	return filepath.Join(c.Records.Dir, c.SystemName+".csv")
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Market == "" {
		c.Market = "KRW-BTC"
	}
	if c.CandleUnit == "" {
		c.CandleUnit = candle.DefaultUnit
	}
	if c.DataSource == "" {
		c.DataSource = "UPBIT"
	}
	c.DataSource = strings.ToUpper(c.DataSource)
	if c.Warmup.Limit == 0 {
		c.Warmup.Limit = 40
	}
	if c.Records.Dir == "" {
		c.Records.Dir = "data"
	}
	if c.Records.Policy == "" {
		c.Records.Policy = "FRESH"
	}
	c.Records.Policy = strings.ToUpper(c.Records.Policy)
	if c.Upbit.BaseURL == "" {
		c.Upbit.BaseURL = "https://api.upbit.com/v1"
	}
	if c.Upbit.MaxAttempts == 0 {
		c.Upbit.MaxAttempts = 5
	}
	if c.Upbit.RequestsPerSecond == 0 {
		c.Upbit.RequestsPerSecond = 8
	}
	if c.Upbit.TimeoutSeconds == 0 {
		c.Upbit.TimeoutSeconds = 10
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "data/archive"
	}
	if len(c.Indicators.SMAWindows) == 0 {
		c.Indicators.SMAWindows = []int{5, 20}
	}
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}
	if c.Indicators.BBWindow == 0 {
		c.Indicators.BBWindow = 20
	}
	if c.Indicators.BBStdDev == 0 {
		c.Indicators.BBStdDev = 2
	}
	if c.Indicators.ATRPeriod == 0 {
		c.Indicators.ATRPeriod = 14
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.History == 0 {
		c.LLM.History = 30
	}
	if c.Analysis.PeriodsPerYear == 0 {
		c.Analysis.PeriodsPerYear = 365
	}
	if c.Runs.DBPath == "" {
		c.Runs.DBPath = "data/runs.db"
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = "logs"
	}
}

// applyEnvOverrides lets deployments relocate files without editing YAML.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("BACKTEST_DATA_DIR"); v != "" {
		c.Records.Dir = v
	}
	if v := os.Getenv("BACKTEST_LOG_DIR"); v != "" {
		c.Logs.Dir = v
	}
	if v := os.Getenv("BACKTEST_RUNS_DB"); v != "" {
		c.Runs.DBPath = v
	}
	if v := os.Getenv("UPBIT_BASE_URL"); v != "" {
		c.Upbit.BaseURL = v
	}
}
