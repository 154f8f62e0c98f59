// Package backtest replays a market candle by candle against an analyst and
// a decider. Every trade is all-in: a BUY spends all cash and a SELL sells
// the whole position. The row for candle T is written one step late, once
// the decision made on T has been executed at T+1's open.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llm-backtester/internal/analyzer"
	"llm-backtester/internal/candle"
	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/llm"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/portfolio"
	"llm-backtester/internal/records"
	"llm-backtester/internal/tradelog"
	"llm-backtester/internal/types"
)

// ErrInvalidRange is returned when the start of the run is not before its end.
var ErrInvalidRange = errors.New("start must be before end")

// DefaultWarmupLimit is enough history for MACD(12, 26, 9).
const DefaultWarmupLimit = 40

// Collector returns the whole buffered history after making sure it covers
// [start, end]. *collector.Collector satisfies it.
type Collector interface {
	Collect(ctx context.Context, market string, start, end time.Time, unit string) ([]types.Candle, error)
}

type Config struct {
	Market         string
	Unit           string
	Start          time.Time
	End            time.Time
	InitialCash    float64
	FeeRate        float64
	Warmup         bool
	WarmupLimit    int
	RiskFreeRate   float64
	PeriodsPerYear float64
}

type Deps struct {
	Collector Collector
	Analyst   interfaces.Analyst
	Decider   interfaces.Decider
	Records   interfaces.RecordStore
	// Journal is optional.
	Journal interfaces.TradeJournal
	// Units defaults to candle.DefaultTable().
	Units *candle.Table
}

type Result struct {
	Metrics       analyzer.Metrics
	BuyAndHoldPct float64
	Steps         int
	Trades        int
	FinalCash     float64
	FinalPosition float64
	Elapsed       time.Duration
}

type Driver struct {
	cfg    Config
	deps   Deps
	unit   candle.Unit
	ledger *portfolio.Ledger
	now    func() time.Time
}

func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Collector == nil || deps.Analyst == nil || deps.Decider == nil || deps.Records == nil {
		return nil, errors.New("backtest: collector, analyst, decider and records are required")
	}
	if deps.Units == nil {
		deps.Units = candle.DefaultTable()
	}
	if cfg.WarmupLimit <= 0 {
		cfg.WarmupLimit = DefaultWarmupLimit
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 365
	}
	ledger, err := portfolio.New(cfg.InitialCash, cfg.FeeRate)
	if err != nil {
		return nil, err
	}
	unit, _ := deps.Units.Lookup(cfg.Unit)
	return &Driver{cfg: cfg, deps: deps, unit: unit, ledger: ledger, now: time.Now}, nil
}

func (d *Driver) Ledger() *portfolio.Ledger { return d.ledger }

// Run walks the range one candle at a time. Each step asks for a decision
// on the history up to the current candle, executes it at the open of the
// next one and records the previous candle with that decision attached.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if !d.cfg.Start.Before(d.cfg.End) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidRange,
			d.cfg.Start.Format(time.DateTime), d.cfg.End.Format(time.DateTime))
	}
	started := d.now()
	market := d.cfg.Market

	ctx, span := logger.StartSpan(ctx, "backtest.Run")
	defer span.End()

	logger.Info(ctx, "Backtest starting",
		"market", market,
		"unit", d.unit.Name,
		"start", d.cfg.Start.Format(time.DateTime),
		"end", d.cfg.End.Format(time.DateTime),
		"initial_cash", d.cfg.InitialCash,
		"fee_rate", d.cfg.FeeRate,
	)

	if d.cfg.Warmup {
		from := d.unit.Advance(d.cfg.Start, -d.cfg.WarmupLimit)
		to := d.unit.Advance(d.cfg.Start, -1)
		if _, err := d.deps.Collector.Collect(ctx, market, from, to, d.unit.Name); err != nil {
			return nil, fmt.Errorf("warm-up: %w", err)
		}
	}

	var (
		latest []types.Candle
		steps  int
		trades int
	)
	tmpEnd := d.cfg.Start
	for tmpEnd.Before(d.cfg.End) {
		history, err := d.deps.Collector.Collect(ctx, market, d.cfg.Start, tmpEnd, d.unit.Name)
		if err != nil {
			return nil, err
		}

		pf := d.ledger.Snapshot()
		t0 := time.Now()
		analysis, err := d.deps.Analyst.Analyze(ctx, market, history, pf)
		if err != nil {
			return nil, fmt.Errorf("analyze at %s: %w", tmpEnd.Format(time.DateTime), err)
		}
		analysisSecs := time.Since(t0).Seconds()

		report := llm.BuildTradingPrompt(pf, analysis)
		t1 := time.Now()
		decision, err := d.deps.Decider.Decide(ctx, report)
		if err != nil {
			return nil, fmt.Errorf("decide at %s: %w", tmpEnd.Format(time.DateTime), err)
		}
		tradeSecs := time.Since(t1).Seconds()
		logger.Decision(ctx, market, decision.Signal.String(), decision.Reason,
			"at", tmpEnd.Format(time.DateTime),
			"analysis_seconds", analysisSecs,
			"trade_seconds", tradeSecs,
		)
		d.journalDecision(ctx, tradelog.DecisionEntry{
			Time:            tmpEnd,
			Market:          market,
			Action:          decision.Signal.String(),
			Reason:          decision.Reason,
			AnalysisSeconds: analysisSecs,
			TradeSeconds:    tradeSecs,
		})

		tmpStart := tmpEnd
		tmpEnd = d.unit.Advance(tmpEnd, 1)
		latest, err = d.deps.Collector.Collect(ctx, market, tmpStart, tmpEnd, d.unit.Name)
		if err != nil {
			return nil, err
		}

		before := d.ledger.Snapshot()
		if len(latest) > 0 {
			next := latest[len(latest)-1]
			rec, err := d.ledger.Apply(decision.Signal, next.Open, next.Ts)
			if err != nil {
				return nil, fmt.Errorf("apply at %s: %w", next.Ts.Format(time.DateTime), err)
			}
			if rec.Executed() {
				trades++
				logger.Trade(ctx, market, rec.Action.String(), rec.CoinsTraded.InexactFloat64(), next.Open,
					"fee", rec.Fee.InexactFloat64(),
				)
			}
			d.journalTrade(ctx, rec)
		}
		logger.Step(ctx, market, tmpEnd, decision.Signal.String(), d.ledger.Cash(), d.ledger.Position())

		if len(latest) < 2 {
			logger.Warn(ctx, "Not enough candles to record step", "market", market, "at", tmpEnd.Format(time.DateTime), "candles", len(latest))
			continue
		}
		row := records.FromCandle(latest[len(latest)-2])
		row.NextAction = records.Ptr(decision.Signal)
		row.CurrentCash = before.Cash
		row.CurrentPosition = before.Position
		row.AnalysisReport = records.Ptr(report)
		row.TradingReason = records.Ptr(decision.Reason)
		row.ResponseTimeAnalysis = records.Ptr(analysisSecs)
		row.ResponseTimeTrade = records.Ptr(tradeSecs)
		if err := d.deps.Records.Upsert(row); err != nil {
			return nil, fmt.Errorf("record step: %w", err)
		}
		steps++
	}

	if len(latest) == 0 {
		logger.Error(ctx, "No candles collected for the final step, run has no terminal row", "market", market)
	} else {
		last := latest[len(latest)-1]
		rec, sold, err := d.ledger.Liquidate(last.Close, tmpEnd)
		if err != nil {
			return nil, fmt.Errorf("liquidate: %w", err)
		}
		if sold {
			trades++
			logger.Trade(ctx, market, rec.Action.String(), rec.CoinsTraded.InexactFloat64(), last.Close, "liquidation", true)
			d.journalTrade(ctx, rec)
		}
		row := records.FromCandle(last)
		row.CurrentCash = d.ledger.Cash()
		row.CurrentPosition = d.ledger.Position()
		if err := d.deps.Records.Upsert(row); err != nil {
			return nil, fmt.Errorf("record final step: %w", err)
		}
	}

	ds, err := analyzer.FromRows(d.deps.Records.Snapshot())
	if err != nil {
		return nil, err
	}
	res := &Result{
		Metrics:       ds.Metrics(d.cfg.RiskFreeRate, d.cfg.PeriodsPerYear),
		BuyAndHoldPct: ds.BuyAndHoldPct(),
		Steps:         steps,
		Trades:        trades,
		FinalCash:     d.ledger.Cash(),
		FinalPosition: d.ledger.Position(),
		Elapsed:       d.now().Sub(started),
	}

	logger.Info(ctx, "Backtest finished",
		"market", market,
		"return_pct", res.Metrics.ReturnPct,
		"mdd_pct", res.Metrics.MDDPct,
		"win_rate", res.Metrics.WinRate,
		"total_trades", res.Metrics.TotalTrades,
		"sharpe", res.Metrics.Sharpe,
		"buy_and_hold_pct", res.BuyAndHoldPct,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}

func (d *Driver) journalTrade(ctx context.Context, rec types.TradeRecord) {
	if d.deps.Journal == nil {
		return
	}
	if err := d.deps.Journal.Append(d.cfg.Market, rec); err != nil {
		logger.Warn(ctx, "Failed to journal trade", "error", err)
	}
}

func (d *Driver) journalDecision(ctx context.Context, e tradelog.DecisionEntry) {
	if d.deps.Journal == nil {
		return
	}
	if err := d.deps.Journal.AppendDecision(e); err != nil {
		logger.Warn(ctx, "Failed to journal decision", "error", err)
	}
}
