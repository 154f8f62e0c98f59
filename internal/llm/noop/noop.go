package noop

import (
	"context"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/types"
)

// Analyst is a stand-in used for dry runs when no model is configured.
type Analyst struct{}

// Decider always decides HOLD.
type Decider struct{}

var (
	_ interfaces.Analyst = Analyst{}
	_ interfaces.Decider = Decider{}
)

func (Analyst) Analyze(ctx context.Context, market string, candles []types.Candle, pf types.Portfolio) (string, error) {
	logger.Debug(ctx, "Noop analyst called", "market", market, "candles", len(candles))
	return "No analysis available.", nil
}

func (Decider) Decide(ctx context.Context, report string) (types.Decision, error) {
	logger.Debug(ctx, "Noop decider called - always returns HOLD")
	return types.Decision{Signal: types.Hold, Reason: "noop_decider_fallback"}, nil
}
