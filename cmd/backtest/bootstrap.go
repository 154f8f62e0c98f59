package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"llm-backtester/internal/archive"
	"llm-backtester/internal/backtest"
	"llm-backtester/internal/collector/sourceobs"
	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/llm"
	"llm-backtester/internal/llm/llmobs"
	"llm-backtester/internal/llm/noop"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/records"
	"llm-backtester/internal/runs"
	"llm-backtester/internal/store"
	"llm-backtester/internal/ta"
	"llm-backtester/internal/trace"
	"llm-backtester/internal/tradelog"
	"llm-backtester/internal/upbit"
)

// initializeSystem initializes logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips old trade journals if retention is configured
func compressOldLogs(ctx context.Context, dir string) {
	v := os.Getenv("BACKTEST_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Ignoring invalid BACKTEST_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := tradelog.CompressOlder(dir, n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// initializeSource picks the candle source and wraps it with observability
func initializeSource(ctx context.Context, cfg *store.Config) interfaces.CandleSource {
	arc := archive.New(cfg.Archive.Dir)

	if cfg.DataSource == "ARCHIVE" {
		logger.Info(ctx, "Replaying candles from the local archive", "dir", cfg.Archive.Dir)
		return sourceobs.Wrap(arc, "archive")
	}

	var src interfaces.CandleSource = upbit.New(upbit.Params{
		BaseURL:           cfg.Upbit.BaseURL,
		MaxAttempts:       cfg.Upbit.MaxAttempts,
		RequestsPerSecond: cfg.Upbit.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Upbit.TimeoutSeconds) * time.Second,
	})
	if cfg.Archive.Write {
		logger.Info(ctx, "Archiving fetched candles", "dir", cfg.Archive.Dir)
		src = archive.Recording(src, arc)
	}
	return sourceobs.Wrap(src, "upbit")
}

func indicatorParams(cfg *store.Config) ta.Params {
	return ta.Params{
		SMAWindows: cfg.Indicators.SMAWindows,
		RSIPeriod:  cfg.Indicators.RSIPeriod,
		BBWindow:   cfg.Indicators.BBWindow,
		BBStdDev:   cfg.Indicators.BBStdDev,
		ATRPeriod:  cfg.Indicators.ATRPeriod,
	}
}

// initializeAnalyst returns the price analyst with observability
func initializeAnalyst(ctx context.Context, cfg *store.Config) interfaces.Analyst {
	var analyst interfaces.Analyst
	if model := cfg.LLM.AnalysisModel; model != "" {
		client := llm.NewClient(model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
		analyst = llm.NewPriceAnalyst(client, indicatorParams(cfg), cfg.LLM.History)
		logger.Info(ctx, "Price analyst configured", "model", model, "provider", llm.ProviderFor(model))
	} else {
		analyst = noop.Analyst{}
		logger.Warn(ctx, "No analysis model configured - using Noop analyst")
	}
	return llmobs.WrapAnalyst(analyst)
}

// initializeDecider returns the trading expert with observability
func initializeDecider(ctx context.Context, cfg *store.Config) interfaces.Decider {
	var decider interfaces.Decider
	if model := cfg.LLM.TradingModel; model != "" {
		decider = llm.NewTradingExpert(llm.NewClient(model, cfg.LLM.MaxTokens, cfg.LLM.Temperature))
		logger.Info(ctx, "Trading expert configured", "model", model, "provider", llm.ProviderFor(model))
	} else {
		decider = noop.Decider{}
		logger.Warn(ctx, "No trading model configured - using Noop decider (always HOLD)")
	}
	return llmobs.WrapDecider(decider)
}

func openRecords(ctx context.Context, cfg *store.Config) (*records.Store, error) {
	policy, err := records.ParsePolicy(cfg.Records.Policy)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Records.Dir, 0o755); err != nil {
		return nil, err
	}
	st, err := records.Open(cfg.RecordsPath(), policy)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Record store opened", "path", st.Path(), "policy", cfg.Records.Policy, "rows", st.Len())
	return st, nil
}

// recordRun registers the finished run; failures only warn.
func recordRun(ctx context.Context, cfg *store.Config, res *backtest.Result) string {
	reg, err := runs.Open(cfg.Runs.DBPath)
	if err != nil {
		logger.Warn(ctx, "Run registry unavailable", "path", cfg.Runs.DBPath, "error", err)
		return ""
	}
	defer reg.Close()

	start, _ := cfg.Start()
	end, _ := cfg.End()
	run, err := reg.Record(ctx, runs.Run{
		SystemName:     cfg.SystemName,
		Market:         cfg.Market,
		Unit:           cfg.CandleUnit,
		Start:          start,
		End:            end,
		InitialCash:    cfg.InitialCash,
		FeeRate:        cfg.FeeRate(),
		AnalysisModel:  cfg.LLM.AnalysisModel,
		TradingModel:   cfg.LLM.TradingModel,
		ReturnPct:      res.Metrics.ReturnPct,
		MDDPct:         res.Metrics.MDDPct,
		WinRate:        res.Metrics.WinRate,
		TotalTrades:    res.Metrics.TotalTrades,
		Sharpe:         res.Metrics.Sharpe,
		BuyAndHoldPct:  res.BuyAndHoldPct,
		ElapsedSeconds: res.Elapsed.Seconds(),
		RecordsPath:    cfg.RecordsPath(),
	})
	if err != nil {
		logger.Warn(ctx, "Failed to register run", "error", err)
		return ""
	}
	return run.ID
}
