package interfaces

import (
	"context"

	"llm-backtester/internal/types"
)

// Analyst turns the candle history into a free-text trend report.
type Analyst interface {
	Analyze(ctx context.Context, market string, candles []types.Candle, pf types.Portfolio) (string, error)
}

// Decider reads a report and returns the signal for the next candle.
type Decider interface {
	Decide(ctx context.Context, report string) (types.Decision, error)
}
