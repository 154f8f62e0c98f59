package sourceobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/trace"
	"llm-backtester/internal/types"
)

// observableSource wraps a CandleSource with observability (logging & tracing)
type observableSource struct {
	source interfaces.CandleSource
	name   string
}

// Compile-time interface check
var _ interfaces.CandleSource = (*observableSource)(nil)

// Wrap wraps a candle source with observability middleware
func Wrap(source interfaces.CandleSource, name string) interfaces.CandleSource {
	return &observableSource{source: source, name: name}
}

// Candles fetches one page with observability
func (o *observableSource) Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "source.Candles")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", o.name),
		attribute.String("market", market),
		attribute.String("resolution", resolution),
		attribute.Int("count", count),
	)

	logger.DebugSkip(ctx, 1, "Fetching candle page",
		"source", o.name,
		"market", market,
		"resolution", resolution,
		"to", to.Format(time.RFC3339),
		"count", count,
	)

	candles, err := o.source.Candles(ctx, market, resolution, to, count)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candle page", err,
			"source", o.name,
			"market", market,
			"to", to.Format(time.RFC3339),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int("returned", len(candles)))
	logger.DebugSkip(ctx, 1, "Candle page fetched", "source", o.name, "market", market, "returned", len(candles))
	return candles, nil
}
