// Package analyzer computes performance figures from a backtest ledger.
package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"llm-backtester/internal/records"
	"llm-backtester/internal/types"
)

// RequiredColumns must all be present in a ledger file.
var RequiredColumns = []string{
	records.ColTimestamp,
	records.ColOpen,
	records.ColHigh,
	records.ColLow,
	records.ColClose,
	records.ColVolume,
	records.ColNextAction,
	records.ColCurrentCash,
	records.ColCurrentPosition,
}

var ErrEmptyDataset = errors.New("analyzer: ledger has no rows")

type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "analyzer: missing required columns: " + strings.Join(e.Columns, ", ")
}

// Dataset is a ledger ordered by timestamp with equity precomputed.
type Dataset struct {
	rows   []records.Row
	equity []float64
}

func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load reads a ledger CSV. Required columns are checked on the header before
// any row is decoded.
func Load(r io.Reader) (*Dataset, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	header, err := records.ReadHeader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if err := checkColumns(header); err != nil {
		return nil, err
	}
	_, rows, err := records.ReadTable(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return FromRows(rows)
}

func checkColumns(header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// FromRows builds a dataset from in-memory rows, e.g. a record store snapshot.
func FromRows(rows []records.Row) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	sorted := make([]records.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	equity := make([]float64, len(sorted))
	for i, r := range sorted {
		equity[i] = r.Equity()
	}
	return &Dataset{rows: sorted, equity: equity}, nil
}

func (d *Dataset) Len() int { return len(d.rows) }

// Equity returns cash + position*close per row.
func (d *Dataset) Equity() []float64 {
	out := make([]float64, len(d.equity))
	copy(out, d.equity)
	return out
}

type ActionCounts struct {
	Buy  int `json:"buy"`
	Hold int `json:"hold"`
	Sell int `json:"sell"`
}

type Summary struct {
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`
	Rows     int          `json:"rows"`
	Actions  ActionCounts `json:"actions"`
	Cash     Stats        `json:"cash"`
	Position Stats        `json:"position"`
	Equity   Stats        `json:"equity"`
}

func (d *Dataset) Summary() Summary {
	s := Summary{
		From: d.rows[0].Timestamp,
		To:   d.rows[len(d.rows)-1].Timestamp,
		Rows: len(d.rows),
	}
	cash := make([]float64, len(d.rows))
	pos := make([]float64, len(d.rows))
	for i, r := range d.rows {
		cash[i] = r.CurrentCash
		pos[i] = r.CurrentPosition
		if r.NextAction == nil {
			continue
		}
		switch *r.NextAction {
		case types.Buy:
			s.Actions.Buy++
		case types.Hold:
			s.Actions.Hold++
		case types.Sell:
			s.Actions.Sell++
		}
	}
	s.Cash = describe(cash)
	s.Position = describe(pos)
	s.Equity = describe(d.equity)
	return s
}

type Metrics struct {
	ReturnPct   float64 `json:"return_pct"`
	MDDPct      float64 `json:"mdd_pct"`
	WinRate     float64 `json:"win_rate"`
	TotalTrades int     `json:"total_trades"`
	Sharpe      float64 `json:"sharpe"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("return=%.2f%% mdd=%.2f%% win_rate=%.2f%% trades=%d sharpe=%.4f",
		m.ReturnPct, m.MDDPct, m.WinRate, m.TotalTrades, m.Sharpe)
}

// Metrics computes the KPIs. riskFree is annual; periodsPerYear scales the
// Sharpe ratio (365 for daily candles).
func (d *Dataset) Metrics(riskFree, periodsPerYear float64) Metrics {
	wins, trades := d.roundTrips()
	m := Metrics{
		ReturnPct:   d.returnPct(),
		MDDPct:      d.maxDrawdownPct(),
		TotalTrades: trades,
		Sharpe:      d.sharpe(riskFree, periodsPerYear),
	}
	if trades > 0 {
		m.WinRate = math.Round(float64(wins)/float64(trades)*100*100) / 100
	}
	return m
}

func (d *Dataset) returnPct() float64 {
	first, last := d.equity[0], d.equity[len(d.equity)-1]
	if first == 0 {
		return math.NaN()
	}
	return (last/first - 1) * 100
}

func (d *Dataset) maxDrawdownPct() float64 {
	peak := math.Inf(-1)
	mdd := 0.0
	for _, e := range d.equity {
		if math.IsNaN(e) {
			continue
		}
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := (e - peak) / peak; dd < mdd {
			mdd = dd
		}
	}
	return mdd * 100
}

// roundTrips pairs each first BUY with the next SELL using the open price of
// the rows where the signals were issued. A trade wins when exit > entry.
func (d *Dataset) roundTrips() (wins, trades int) {
	var entry *float64
	for _, r := range d.rows {
		if r.NextAction == nil {
			continue
		}
		switch *r.NextAction {
		case types.Buy:
			if entry == nil {
				open := r.Open
				entry = &open
			}
		case types.Sell:
			if entry != nil {
				trades++
				if r.Open > *entry {
					wins++
				}
				entry = nil
			}
		}
	}
	return wins, trades
}

func (d *Dataset) sharpe(riskFree, periodsPerYear float64) float64 {
	if periodsPerYear <= 0 {
		return math.NaN()
	}
	excess := make([]float64, 0, len(d.equity))
	for i := 1; i < len(d.equity); i++ {
		prev, cur := d.equity[i-1], d.equity[i]
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		excess = append(excess, cur/prev-1-riskFree/periodsPerYear)
	}
	mean, std := meanStd(excess)
	// A flat curve leaves float residue in std; treat it as zero variance.
	if math.IsNaN(std) || std <= 1e-12*math.Abs(mean) || allEqual(excess) {
		return math.NaN()
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// BuyAndHoldPct is the return of buying at the first open and holding to
// the last close.
func (d *Dataset) BuyAndHoldPct() float64 {
	first := d.rows[0].Open
	if first == 0 {
		return math.NaN()
	}
	return (d.rows[len(d.rows)-1].Close/first - 1) * 100
}
