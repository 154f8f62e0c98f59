package interfaces

import (
	"context"
	"time"

	"llm-backtester/internal/types"
)

// CandleSource serves one page of candles opening strictly before `to`, most
// recent first, the way the exchange's paginated endpoint does.
type CandleSource interface {
	Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error)
}
