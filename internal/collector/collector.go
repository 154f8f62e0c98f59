// Package collector gathers the candle history of one backtest run.
//
// Candles are fetched page by page, walking backwards from the requested end
// until the start is covered, and merged into a run-scoped buffer keyed by
// timestamp. Later calls only add candles the buffer has not seen.
package collector

import (
	"context"
	"errors"
	"sort"
	"time"

	"llm-backtester/internal/candle"
	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/types"
)

// MaxPage is the largest page requested from the source.
const MaxPage = 200

type Collector struct {
	source interfaces.CandleSource
	units  *candle.Table
	now    func() time.Time

	buf  []types.Candle
	seen map[int64]struct{}
}

func New(source interfaces.CandleSource, units *candle.Table) *Collector {
	return &Collector{
		source: source,
		units:  units,
		now:    func() time.Time { return time.Now().In(types.KST) },
		seen:   make(map[int64]struct{}),
	}
}

// WithClock replaces the wall clock used to clamp end. Tests only.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect ensures the buffer covers [start, end] and returns the whole run
// buffer in ascending order. Source failures end pagination early and the
// partial result is returned; only context cancellation is an error.
func (c *Collector) Collect(ctx context.Context, market string, start, end time.Time, unitName string) ([]types.Candle, error) {
	unit, ok := c.units.Lookup(unitName)
	if !ok {
		logger.Warn(ctx, "Unknown candle unit, using default", "unit", unitName, "default", candle.DefaultUnit)
	}

	if now := c.now(); end.After(now) {
		end = now
	}
	if start.After(end) {
		return c.Candles(), nil
	}

	cursor := end
	pages := 0
	for !cursor.Before(start) {
		if err := ctx.Err(); err != nil {
			return c.Candles(), err
		}

		count := candle.DaysBetween(start, cursor) + 1
		if count > MaxPage {
			count = MaxPage
		}
		if count < 1 {
			count = 1
		}

		// The source bound is exclusive; one unit past the cursor keeps the
		// candle opening at the cursor in the page.
		page, err := c.source.Candles(ctx, market, unit.Resolution, unit.Advance(cursor, 1), count)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.Candles(), err
			}
			logger.Warn(ctx, "Candle page failed, keeping partial history",
				"market", market,
				"cursor", cursor.Format(time.RFC3339),
				"collected", len(c.buf),
				"error", err,
			)
			break
		}
		if len(page) == 0 {
			break
		}
		pages++

		// Pages arrive most recent first.
		oldest := page[len(page)-1].Ts
		for i := len(page) - 1; i >= 0; i-- {
			// A cursor off the unit grid can pull in a candle opening after end.
			if !page[i].Ts.After(end) {
				c.add(page[i])
			}
			if page[i].Ts.Before(oldest) {
				oldest = page[i].Ts
			}
		}
		next := unit.Advance(oldest, -1)
		if !next.Before(cursor) {
			logger.Warn(ctx, "Candle page did not move the cursor back, stopping",
				"market", market,
				"cursor", cursor.Format(time.RFC3339),
			)
			break
		}
		cursor = next
	}

	logger.Debug(ctx, "Collected candles",
		"market", market,
		"unit", unit.Name,
		"pages", pages,
		"buffered", len(c.buf),
	)
	return c.Candles(), nil
}

func (c *Collector) add(k types.Candle) {
	key := k.Ts.Unix()
	if _, dup := c.seen[key]; dup {
		return
	}
	c.seen[key] = struct{}{}
	c.buf = append(c.buf, k)
}

// Candles returns a copy of the buffer in ascending order.
func (c *Collector) Candles() []types.Candle {
	sort.Slice(c.buf, func(i, j int) bool { return c.buf[i].Ts.Before(c.buf[j].Ts) })
	out := make([]types.Candle, len(c.buf))
	copy(out, c.buf)
	return out
}

// Reset empties the buffer for a new run.
func (c *Collector) Reset() {
	c.buf = nil
	c.seen = make(map[int64]struct{})
}
