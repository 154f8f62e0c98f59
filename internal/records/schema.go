package records

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"llm-backtester/internal/types"
)

// Column names of the ledger table, in file order.
const (
	ColTimestamp            = "timestamp"
	ColOpen                 = "open"
	ColHigh                 = "high"
	ColLow                  = "low"
	ColClose                = "close"
	ColVolume               = "volume"
	ColNextAction           = "next_action"
	ColCurrentCash          = "current_cash"
	ColCurrentPosition      = "current_position"
	ColAnalysisReport       = "analysis_report"
	ColTradingReason        = "trading_reason"
	ColResponseTimeAnalysis = "response_time_analysis"
	ColResponseTimeTrade    = "response_time_trade"
)

// Kind is the declared type of a column.
type Kind int

const (
	KindTime Kind = iota
	KindFloat
	KindNullableSignal
	KindNullableString
	KindNullableFloat
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "datetime"
	case KindFloat:
		return "float"
	case KindNullableSignal:
		return "nullable int (-1, 0, 1)"
	case KindNullableString:
		return "nullable string"
	case KindNullableFloat:
		return "nullable float"
	default:
		return "unknown"
	}
}

type Column struct {
	Name string
	Kind Kind
}

// Schema lists every column of the table.
var Schema = []Column{
	{ColTimestamp, KindTime},
	{ColOpen, KindFloat},
	{ColHigh, KindFloat},
	{ColLow, KindFloat},
	{ColClose, KindFloat},
	{ColVolume, KindFloat},
	{ColNextAction, KindNullableSignal},
	{ColCurrentCash, KindFloat},
	{ColCurrentPosition, KindFloat},
	{ColAnalysisReport, KindNullableString},
	{ColTradingReason, KindNullableString},
	{ColResponseTimeAnalysis, KindNullableFloat},
	{ColResponseTimeTrade, KindNullableFloat},
}

func kindOf(name string) (Kind, bool) {
	for _, c := range Schema {
		if c.Name == name {
			return c.Kind, true
		}
	}
	return 0, false
}

// CoercionError reports a value that does not fit its column's type.
type CoercionError struct {
	Column string
	Value  any
	Kind   Kind
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("records: column %q: cannot use %#v as %s", e.Column, e.Value, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return e.Err }

// TimeLayout is how timestamps are written: KST wall clock, no offset.
const TimeLayout = "2006-01-02T15:04:05"

var timeLayouts = []string{TimeLayout, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(col, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(types.KST), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, types.KST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &CoercionError{Column: col, Value: s, Kind: KindTime}
}

func parseFloat(col, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &CoercionError{Column: col, Value: s, Kind: KindFloat, Err: err}
	}
	return v, nil
}

func parseNullableFloat(col, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &CoercionError{Column: col, Value: s, Kind: KindNullableFloat, Err: err}
	}
	return &v, nil
}

// parseNullableSignal accepts "1" as well as "1.0", which is how
// spreadsheet tools write integer columns that contain blanks.
func parseNullableSignal(col, s string) (*types.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || !types.Signal(int(f)).Valid() {
		return nil, &CoercionError{Column: col, Value: s, Kind: KindNullableSignal, Err: err}
	}
	sig := types.Signal(int(f))
	return &sig, nil
}

func parseNullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNullableFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatNullableSignal(v *types.Signal) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(int(*v))
}

func formatNullableString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
