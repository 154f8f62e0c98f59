package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"llm-backtester/internal/backtest"
	"llm-backtester/internal/candle"
	"llm-backtester/internal/collector"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/report"
	"llm-backtester/internal/trace"
	"llm-backtester/internal/tradelog"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	must(initializeSystem())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	if err := run(ctx, *configPath); err != nil {
		logger.ErrorWithErr(ctx, "Backtest failed", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	compressOldLogs(ctx, cfg.Logs.Dir)

	start, _ := cfg.Start()
	end, _ := cfg.End()

	recs, err := openRecords(ctx, cfg)
	if err != nil {
		return err
	}

	runName := cfg.SystemName + "-" + time.Now().Format("20060102-150405")
	journal, err := tradelog.Open(cfg.Logs.Dir, runName)
	if err != nil {
		return err
	}

	units := candle.DefaultTable()
	driver, err := backtest.New(backtest.Config{
		Market:         cfg.Market,
		Unit:           cfg.CandleUnit,
		Start:          start,
		End:            end,
		InitialCash:    cfg.InitialCash,
		FeeRate:        cfg.FeeRate(),
		Warmup:         cfg.WarmupEnabled(),
		WarmupLimit:    cfg.Warmup.Limit,
		RiskFreeRate:   cfg.Analysis.RiskFreeRate,
		PeriodsPerYear: cfg.Analysis.PeriodsPerYear,
	}, backtest.Deps{
		Collector: collector.New(initializeSource(ctx, cfg), units),
		Analyst:   initializeAnalyst(ctx, cfg),
		Decider:   initializeDecider(ctx, cfg),
		Records:   recs,
		Journal:   journal,
		Units:     units,
	})
	if err != nil {
		return err
	}

	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	reportPath, err := report.Write(filepath.Join(cfg.Logs.Dir, "reports"), runName, res, driver.Ledger().History())
	if err != nil {
		logger.Warn(ctx, "Failed to write KPI report", "error", err)
	}
	runID := recordRun(ctx, cfg, res)

	fmt.Printf("System:          %s (%s, %s)\n", cfg.SystemName, cfg.Market, cfg.CandleUnit)
	fmt.Printf("Period:          %s ~ %s\n", cfg.StartDate, cfg.EndDate)
	fmt.Printf("Return:          %.2f%%\n", res.Metrics.ReturnPct)
	fmt.Printf("Max drawdown:    %.2f%%\n", res.Metrics.MDDPct)
	fmt.Printf("Win rate:        %.2f%% (%d trades)\n", res.Metrics.WinRate, res.Metrics.TotalTrades)
	fmt.Printf("Sharpe:          %.2f\n", res.Metrics.Sharpe)
	fmt.Printf("Buy and hold:    %.2f%%\n", res.BuyAndHoldPct)
	fmt.Printf("Elapsed:         %s\n", res.Elapsed.Round(time.Second))
	fmt.Printf("Records:         %s\n", recs.Path())
	fmt.Printf("Trade journal:   %s\n", journal.TradesPath())
	if reportPath != "" {
		fmt.Printf("KPI report:      %s\n", reportPath)
	}
	if runID != "" {
		fmt.Printf("Run ID:          %s\n", runID)
	}
	return nil
}
