package llmobs

import (
	"context"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/trace"
	"llm-backtester/internal/types"
)

type observableAnalyst struct {
	analyst interfaces.Analyst
}

// observableDecider wraps a Decider with observability (logging & tracing)
type observableDecider struct {
	decider interfaces.Decider
}

// Compile-time interface checks
var (
	_ interfaces.Analyst = (*observableAnalyst)(nil)
	_ interfaces.Decider = (*observableDecider)(nil)
)

func WrapAnalyst(analyst interfaces.Analyst) interfaces.Analyst {
	return &observableAnalyst{analyst: analyst}
}

// WrapDecider wraps a decider with observability middleware
func WrapDecider(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (oa *observableAnalyst) Analyze(ctx context.Context, market string, candles []types.Candle, pf types.Portfolio) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Analyze")
	defer span.End()

	// DebugSkip(1) reports the actual caller, not this wrapper
	logger.DebugSkip(ctx, 1, "Requesting price analysis",
		"market", market,
		"candles", len(candles),
		"cash", pf.Cash,
		"position", pf.Position,
	)

	report, err := oa.analyst.Analyze(ctx, market, candles, pf)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get price analysis", err, "market", market)
		return "", err
	}

	logger.DebugSkip(ctx, 1, "Price analysis received", "market", market, "report_len", len(report))
	return report, nil
}

// Decide makes a trading decision with observability
func (od *observableDecider) Decide(ctx context.Context, report string) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Requesting trading decision", "prompt_len", len(report))

	decision, err := od.decider.Decide(ctx, report)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err)
		return types.Decision{}, err
	}

	logger.InfoSkip(ctx, 1, "Trading decision received",
		"action", decision.Signal.String(),
		"reason", decision.Reason,
	)
	return decision, nil
}
