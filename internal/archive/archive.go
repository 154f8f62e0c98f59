// Package archive keeps downloaded candles in Parquet files so a backtest
// can be replayed without touching the exchange.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/types"
)

// CandleRecord is the on-disk schema.
type CandleRecord struct {
	Market    string  `parquet:"market"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

var _ interfaces.CandleSource = (*Archive)(nil)

// Archive stores one file per market and resolution:
//
//	<dir>/<MARKET>/<resolution>.parquet
type Archive struct {
	dir string

	mu    sync.Mutex
	cache map[string][]CandleRecord
}

func New(dir string) *Archive {
	return &Archive{dir: dir, cache: make(map[string][]CandleRecord)}
}

func (a *Archive) path(market, resolution string) string {
	name := strings.ReplaceAll(resolution, "/", "-")
	return filepath.Join(a.dir, market, name+".parquet")
}

// Write merges candles into the archive, replacing rows with the same
// timestamp.
func (a *Archive) Write(market, resolution string, candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	incoming := make([]CandleRecord, len(candles))
	for i, c := range candles {
		incoming[i] = CandleRecord{
			Market:    market,
			Timestamp: c.Ts.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Vol,
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.path(market, resolution)
	existing, err := a.load(p)
	if err != nil {
		return err
	}
	merged := merge(existing, incoming)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := parquet.WriteFile(tmp, merged); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return err
	}
	a.cache[p] = merged
	return nil
}

// Read returns every archived candle for market in ascending order.
func (a *Archive) Read(market, resolution string) ([]types.Candle, error) {
	a.mu.Lock()
	recs, err := a.load(a.path(market, resolution))
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]types.Candle, len(recs))
	for i, r := range recs {
		out[i] = r.candle()
	}
	return out, nil
}

// Candles serves a page the way the exchange does: up to count candles opening
// before to, most recent first. A missing file is an empty page.
func (a *Archive) Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	recs, err := a.load(a.path(market, resolution))
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	limit := to.UnixMilli()
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp >= limit })
	out := make([]types.Candle, 0, count)
	for i--; i >= 0 && len(out) < count; i-- {
		out = append(out, recs[i].candle())
	}
	return out, nil
}

// load must be called with mu held.
func (a *Archive) load(p string) ([]CandleRecord, error) {
	if recs, ok := a.cache[p]; ok {
		return recs, nil
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	recs, err := parquet.ReadFile[CandleRecord](p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	a.cache[p] = recs
	return recs, nil
}

func (r CandleRecord) candle() types.Candle {
	return types.Candle{
		Ts:    time.UnixMilli(r.Timestamp).In(types.KST),
		Open:  r.Open,
		High:  r.High,
		Low:   r.Low,
		Close: r.Close,
		Vol:   r.Volume,
	}
}

// merge deduplicates by timestamp, preferring incoming records.
func merge(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

// recordingSource archives every page fetched from an upstream source.
type recordingSource struct {
	upstream interfaces.CandleSource
	archive  *Archive
}

// Recording returns a CandleSource that tees upstream pages into a. Archive
// failures are logged and never fail the fetch.
func Recording(upstream interfaces.CandleSource, a *Archive) interfaces.CandleSource {
	return &recordingSource{upstream: upstream, archive: a}
}

func (r *recordingSource) Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error) {
	page, err := r.upstream.Candles(ctx, market, resolution, to, count)
	if err != nil {
		return nil, err
	}
	if err := r.archive.Write(market, resolution, page); err != nil {
		logger.Warn(ctx, "Failed to archive candles", "market", market, "resolution", resolution, "error", err)
	}
	return page, nil
}
