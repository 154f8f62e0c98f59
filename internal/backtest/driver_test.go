package backtest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backtester/internal/candle"
	"llm-backtester/internal/collector"
	"llm-backtester/internal/records"
	"llm-backtester/internal/tradelog"
	"llm-backtester/internal/types"
)

func day(d int) time.Time {
	return time.Date(2024, 8, 1, 9, 0, 0, 0, types.KST).AddDate(0, 0, d)
}

func hour(h int) time.Time {
	return time.Date(2024, 8, 1, 0, 0, 0, 0, types.KST).Add(time.Duration(h) * time.Hour)
}

// seriesSource serves candles opening strictly before `to`, most recent
// first, as the exchange does.
type seriesSource struct {
	series []types.Candle
}

func (s *seriesSource) Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error) {
	var out []types.Candle
	for i := len(s.series) - 1; i >= 0 && len(out) < count; i-- {
		if s.series[i].Ts.Before(to) {
			out = append(out, s.series[i])
		}
	}
	return out, nil
}

func series(n int) []types.Candle {
	return seriesAt(n, day)
}

func seriesAt(n int, at func(int) time.Time) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		p := 1000 + 10*float64(i)
		out[i] = types.Candle{Ts: at(i), Open: p, High: p + 8, Low: p - 8, Close: p + 5, Vol: 1}
	}
	return out
}

type stubAnalyst struct {
	seen   []int
	newest []time.Time
}

func (a *stubAnalyst) Analyze(ctx context.Context, market string, candles []types.Candle, pf types.Portfolio) (string, error) {
	a.seen = append(a.seen, len(candles))
	if len(candles) > 0 {
		a.newest = append(a.newest, candles[len(candles)-1].Ts)
	}
	return "Sideways.\n- nothing to see", nil
}

type scriptedDecider struct {
	signals []types.Signal
	prompts []string
	err     error
}

func (d *scriptedDecider) Decide(ctx context.Context, prompt string) (types.Decision, error) {
	if d.err != nil {
		return types.Decision{}, d.err
	}
	d.prompts = append(d.prompts, prompt)
	s := d.signals[0]
	if len(d.signals) > 1 {
		d.signals = d.signals[1:]
	}
	return types.Decision{Signal: s, Reason: "because " + s.String()}, nil
}

type memJournal struct {
	trades    []types.TradeRecord
	decisions []tradelog.DecisionEntry
}

func (j *memJournal) Append(market string, rec types.TradeRecord) error {
	j.trades = append(j.trades, rec)
	return nil
}

func (j *memJournal) AppendDecision(e tradelog.DecisionEntry) error {
	j.decisions = append(j.decisions, e)
	return nil
}

type fixture struct {
	store   *records.Store
	analyst *stubAnalyst
	decider *scriptedDecider
	journal *memJournal
	driver  *Driver
}

func newFixture(t *testing.T, signals ...types.Signal) *fixture {
	t.Helper()
	store, err := records.Open(filepath.Join(t.TempDir(), "run.csv"), records.PolicyFresh)
	require.NoError(t, err)

	coll := collector.New(&seriesSource{series: series(20)}, candle.DefaultTable()).
		WithClock(func() time.Time { return day(365) })
	f := &fixture{
		store:   store,
		analyst: &stubAnalyst{},
		decider: &scriptedDecider{signals: signals},
		journal: &memJournal{},
	}
	f.driver, err = New(Config{
		Market:      "KRW-BTC",
		Unit:        "1d",
		Start:       day(5),
		End:         day(8),
		InitialCash: 1000,
		FeeRate:     0,
		Warmup:      true,
		WarmupLimit: 3,
	}, Deps{
		Collector: coll,
		Analyst:   f.analyst,
		Decider:   f.decider,
		Records:   store,
		Journal:   f.journal,
	})
	require.NoError(t, err)
	return f
}

func TestRunBuyHoldSell(t *testing.T) {
	f := newFixture(t, types.Buy, types.Hold, types.Sell)

	res, err := f.driver.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 2, res.Trades)
	assert.InDelta(t, 1000*1080.0/1060.0, res.FinalCash, 1e-9)
	assert.Zero(t, res.FinalPosition)

	rows := f.store.Snapshot()
	require.Len(t, rows, 4)
	for i, r := range rows {
		assert.True(t, r.Timestamp.Equal(day(5+i)), "row %d", i)
	}

	// Rows carry the state before the trade they announce.
	assert.Equal(t, types.Buy, *rows[0].NextAction)
	assert.Equal(t, 1000.0, rows[0].CurrentCash)
	assert.Zero(t, rows[0].CurrentPosition)
	assert.Zero(t, rows[1].CurrentCash)
	assert.InDelta(t, 1000/1060.0, rows[1].CurrentPosition, 1e-12)
	assert.Equal(t, types.Sell, *rows[2].NextAction)

	require.NotNil(t, rows[0].AnalysisReport)
	assert.True(t, strings.HasPrefix(*rows[0].AnalysisReport, "# Current Portfolio:\n- Cash: 1000"))
	assert.Equal(t, "because BUY", *rows[0].TradingReason)
	assert.NotNil(t, rows[0].ResponseTimeAnalysis)

	last := rows[3]
	assert.Nil(t, last.NextAction)
	assert.Nil(t, last.AnalysisReport)
	assert.InDelta(t, res.FinalCash, last.CurrentCash, 1e-9)

	assert.InDelta(t, (1000*1080.0/1060.0/1000-1)*100, res.Metrics.ReturnPct, 1e-9)
	assert.Len(t, f.journal.trades, 3)
	assert.Len(t, f.journal.decisions, 3)
}

func TestRunLiquidatesOpenPosition(t *testing.T) {
	f := newFixture(t, types.Buy)

	res, err := f.driver.Run(context.Background())
	require.NoError(t, err)

	// Bought at day 6's open, sold at day 8's close.
	assert.InDelta(t, 1000/1060.0*1085, res.FinalCash, 1e-9)
	assert.Zero(t, res.FinalPosition)
	assert.Equal(t, 2, res.Trades)

	liq := f.journal.trades[len(f.journal.trades)-1]
	assert.Equal(t, types.Sell, liq.Action)
	assert.True(t, liq.Time.Equal(day(8)))

	rows := f.store.Snapshot()
	assert.Zero(t, rows[len(rows)-1].CurrentPosition)
}

func TestRunWarmupFeedsAnalyst(t *testing.T) {
	f := newFixture(t, types.Hold)

	_, err := f.driver.Run(context.Background())
	require.NoError(t, err)

	// Warm-up brings days 2-4, then each step adds one candle.
	assert.Equal(t, []int{4, 5, 6}, f.analyst.seen)
}

func TestRunHourlyNeverLooksAhead(t *testing.T) {
	store, err := records.Open(filepath.Join(t.TempDir(), "hourly.csv"), records.PolicyFresh)
	require.NoError(t, err)
	analyst := &stubAnalyst{}
	coll := collector.New(&seriesSource{series: seriesAt(48, hour)}, candle.DefaultTable()).
		WithClock(func() time.Time { return hour(100) })

	d, err := New(Config{
		Market:      "KRW-BTC",
		Unit:        "1h",
		Start:       hour(5),
		End:         hour(9),
		InitialCash: 1000,
		Warmup:      true,
		WarmupLimit: 3,
	}, Deps{
		Collector: coll,
		Analyst:   analyst,
		Decider:   &scriptedDecider{signals: []types.Signal{types.Buy, types.Hold, types.Sell, types.Hold}},
		Records:   store,
	})
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Steps)

	// Step i decides at hour(5+i) and ends at hour(6+i).
	require.Len(t, analyst.newest, 4)
	for i, ts := range analyst.newest {
		assert.True(t, ts.Equal(hour(5+i)), "step %d analysed up to %s", i, ts)
	}

	rows := store.Snapshot()
	require.Len(t, rows, 5)
	seen := map[int64]bool{}
	for i, r := range rows {
		stepEnd := hour(6 + i)
		if i == len(rows)-1 {
			stepEnd = hour(9)
		}
		assert.False(t, r.Timestamp.After(stepEnd), "row %d at %s is past %s", i, r.Timestamp, stepEnd)
		assert.False(t, seen[r.Timestamp.Unix()], "row %d duplicates %s", i, r.Timestamp)
		seen[r.Timestamp.Unix()] = true
	}
	assert.True(t, rows[len(rows)-1].Timestamp.Equal(hour(9)))
}

func TestRunInvalidRange(t *testing.T) {
	f := newFixture(t, types.Hold)
	f.driver.cfg.End = f.driver.cfg.Start

	_, err := f.driver.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRunDecisionErrorAborts(t *testing.T) {
	f := newFixture(t, types.Hold)
	boom := errors.New("malformed")
	f.decider.err = boom

	_, err := f.driver.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.Len())
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, types.Hold)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.driver.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{InitialCash: 1}, Deps{})
	assert.Error(t, err)
}
