package records

import (
	"fmt"
	"math"
	"strings"
	"time"

	"llm-backtester/internal/types"
)

// Row is one step of the backtest: the candle that was observed, the action
// chosen for the next candle and the portfolio at that moment.
type Row struct {
	Timestamp            time.Time
	Open                 float64
	High                 float64
	Low                  float64
	Close                float64
	Volume               float64
	NextAction           *types.Signal
	CurrentCash          float64
	CurrentPosition      float64
	AnalysisReport       *string
	TradingReason        *string
	ResponseTimeAnalysis *float64
	ResponseTimeTrade    *float64
}

// Ptr returns a pointer to v, for filling nullable columns.
func Ptr[T any](v T) *T {
	return &v
}

// FromCandle starts a row from a candle.
func FromCandle(c types.Candle) Row {
	return Row{
		Timestamp: c.Ts,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Vol,
	}
}

// Equity is cash plus the position valued at the row's close.
func (r Row) Equity() float64 {
	return r.CurrentCash + r.CurrentPosition*r.Close
}

// csvRow is the on-disk shape. Every cell is text so the store can report
// the offending column when a value does not fit its type.
type csvRow struct {
	Timestamp            string `csv:"timestamp"`
	Open                 string `csv:"open"`
	High                 string `csv:"high"`
	Low                  string `csv:"low"`
	Close                string `csv:"close"`
	Volume               string `csv:"volume"`
	NextAction           string `csv:"next_action"`
	CurrentCash          string `csv:"current_cash"`
	CurrentPosition      string `csv:"current_position"`
	AnalysisReport       string `csv:"analysis_report"`
	TradingReason        string `csv:"trading_reason"`
	ResponseTimeAnalysis string `csv:"response_time_analysis"`
	ResponseTimeTrade    string `csv:"response_time_trade"`
}

func (r Row) toCSV() csvRow {
	return csvRow{
		Timestamp:            r.Timestamp.In(types.KST).Format(TimeLayout),
		Open:                 formatFloat(r.Open),
		High:                 formatFloat(r.High),
		Low:                  formatFloat(r.Low),
		Close:                formatFloat(r.Close),
		Volume:               formatFloat(r.Volume),
		NextAction:           formatNullableSignal(r.NextAction),
		CurrentCash:          formatFloat(r.CurrentCash),
		CurrentPosition:      formatFloat(r.CurrentPosition),
		AnalysisReport:       formatNullableString(r.AnalysisReport),
		TradingReason:        formatNullableString(r.TradingReason),
		ResponseTimeAnalysis: formatNullableFloat(r.ResponseTimeAnalysis),
		ResponseTimeTrade:    formatNullableFloat(r.ResponseTimeTrade),
	}
}

func (c csvRow) toRow() (Row, error) {
	var (
		r   Row
		err error
	)
	if r.Timestamp, err = parseTime(ColTimestamp, c.Timestamp); err != nil {
		return Row{}, err
	}
	floats := []struct {
		col string
		raw string
		dst *float64
	}{
		{ColOpen, c.Open, &r.Open},
		{ColHigh, c.High, &r.High},
		{ColLow, c.Low, &r.Low},
		{ColClose, c.Close, &r.Close},
		{ColVolume, c.Volume, &r.Volume},
		{ColCurrentCash, c.CurrentCash, &r.CurrentCash},
		{ColCurrentPosition, c.CurrentPosition, &r.CurrentPosition},
	}
	for _, f := range floats {
		if *f.dst, err = parseFloat(f.col, f.raw); err != nil {
			return Row{}, err
		}
	}
	if r.NextAction, err = parseNullableSignal(ColNextAction, c.NextAction); err != nil {
		return Row{}, err
	}
	if r.ResponseTimeAnalysis, err = parseNullableFloat(ColResponseTimeAnalysis, c.ResponseTimeAnalysis); err != nil {
		return Row{}, err
	}
	if r.ResponseTimeTrade, err = parseNullableFloat(ColResponseTimeTrade, c.ResponseTimeTrade); err != nil {
		return Row{}, err
	}
	r.AnalysisReport = parseNullableString(c.AnalysisReport)
	r.TradingReason = parseNullableString(c.TradingReason)
	return r, nil
}

// RowFromValues builds a Row from loosely typed values keyed by column name.
// Every value is coerced to its column's type; the first value that does not
// fit is reported as a *CoercionError naming the column.
func RowFromValues(values map[string]any) (Row, error) {
	var r Row
	if _, ok := values[ColTimestamp]; !ok {
		return Row{}, &CoercionError{Column: ColTimestamp, Value: nil, Kind: KindTime}
	}
	for col, v := range values {
		kind, ok := kindOf(col)
		if !ok {
			return Row{}, fmt.Errorf("records: unknown column %q", col)
		}
		if err := assign(&r, col, kind, v); err != nil {
			return Row{}, err
		}
	}
	return r, nil
}

func assign(r *Row, col string, kind Kind, v any) error {
	bad := func() error { return &CoercionError{Column: col, Value: v, Kind: kind} }

	switch kind {
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			if t.IsZero() {
				return bad()
			}
			r.Timestamp = t
		case string:
			ts, err := parseTime(col, t)
			if err != nil {
				return err
			}
			r.Timestamp = ts
		default:
			return bad()
		}

	case KindFloat:
		f, ok, err := toFloat(col, v)
		if err != nil {
			return err
		}
		if !ok {
			f = math.NaN()
		}
		switch col {
		case ColOpen:
			r.Open = f
		case ColHigh:
			r.High = f
		case ColLow:
			r.Low = f
		case ColClose:
			r.Close = f
		case ColVolume:
			r.Volume = f
		case ColCurrentCash:
			r.CurrentCash = f
		case ColCurrentPosition:
			r.CurrentPosition = f
		}

	case KindNullableFloat:
		f, ok, err := toFloat(col, v)
		if err != nil {
			return err
		}
		var p *float64
		if ok {
			p = &f
		}
		if col == ColResponseTimeAnalysis {
			r.ResponseTimeAnalysis = p
		} else {
			r.ResponseTimeTrade = p
		}

	case KindNullableSignal:
		var sig *types.Signal
		switch s := v.(type) {
		case nil:
		case types.Signal:
			if !s.Valid() {
				return bad()
			}
			sig = &s
		case *types.Signal:
			if s != nil && !s.Valid() {
				return bad()
			}
			sig = s
		case int:
			if !types.Signal(s).Valid() {
				return bad()
			}
			sig = Ptr(types.Signal(s))
		case float64:
			if s != math.Trunc(s) || !types.Signal(int(s)).Valid() {
				return bad()
			}
			sig = Ptr(types.Signal(int(s)))
		case string:
			p, err := parseNullableSignal(col, s)
			if err != nil {
				return err
			}
			sig = p
		default:
			return bad()
		}
		r.NextAction = sig

	case KindNullableString:
		var p *string
		switch s := v.(type) {
		case nil:
		case string:
			p = parseNullableString(s)
		case *string:
			p = s
		case fmt.Stringer:
			p = Ptr(s.String())
		default:
			return bad()
		}
		if col == ColAnalysisReport {
			r.AnalysisReport = p
		} else {
			r.TradingReason = p
		}
	}
	return nil
}

// toFloat reports ok=false for null values.
func toFloat(col string, v any) (float64, bool, error) {
	switch f := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return f, true, nil
	case float32:
		return float64(f), true, nil
	case int:
		return float64(f), true, nil
	case int64:
		return float64(f), true, nil
	case *float64:
		if f == nil {
			return 0, false, nil
		}
		return *f, true, nil
	case string:
		if strings.TrimSpace(f) == "" {
			return 0, false, nil
		}
		p, err := parseNullableFloat(col, f)
		if err != nil {
			return 0, false, err
		}
		return *p, true, nil
	}
	return 0, false, &CoercionError{Column: col, Value: v, Kind: KindFloat}
}
