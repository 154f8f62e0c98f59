package records

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backtester/internal/types"
)

func ts(day int) time.Time {
	return time.Date(2024, 9, day, 9, 0, 0, 0, types.KST)
}

func sampleRow(day int, action types.Signal) Row {
	r := FromCandle(types.Candle{Ts: ts(day), Open: 100, High: 110, Low: 90, Close: 105, Vol: 3.5})
	r.NextAction = Ptr(action)
	r.CurrentCash = 1000
	r.CurrentPosition = 0
	r.AnalysisReport = Ptr("trend is up")
	r.TradingReason = Ptr("momentum")
	r.ResponseTimeAnalysis = Ptr(1.25)
	r.ResponseTimeTrade = Ptr(0.5)
	return r
}

func TestUpsertKeepsOrderAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	s, err := Open(path, PolicyFresh)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(sampleRow(3, types.Buy)))
	require.NoError(t, s.Upsert(sampleRow(1, types.Hold)))
	require.NoError(t, s.Upsert(sampleRow(2, types.Sell)))

	replaced := sampleRow(1, types.Sell)
	replaced.CurrentCash = 42
	require.NoError(t, s.Upsert(replaced))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	for i, want := range []int{1, 2, 3} {
		assert.True(t, snap[i].Timestamp.Equal(ts(want)))
	}
	assert.Equal(t, 42.0, snap[0].CurrentCash)
	assert.Equal(t, types.Sell, *snap[0].NextAction)

	got, ok := s.Lookup(ts(2))
	require.True(t, ok)
	assert.Equal(t, types.Sell, *got.NextAction)
	_, ok = s.Lookup(ts(9))
	assert.False(t, ok)
}

func TestFileMirrorsMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.csv")
	s, err := Open(path, PolicyFresh)
	require.NoError(t, err)

	terminal := FromCandle(types.Candle{Ts: ts(5), Open: 1, High: 2, Low: 0.5, Close: 1.5, Vol: 10})
	terminal.CurrentCash = 1500
	require.NoError(t, s.Upsert(sampleRow(4, types.Buy)))
	require.NoError(t, s.Upsert(terminal))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	header, rows, err := ReadTable(f)
	require.NoError(t, err)

	names := make([]string, len(Schema))
	for i, c := range Schema {
		names[i] = c.Name
	}
	assert.Equal(t, names, header)
	require.Len(t, rows, 2)
	assert.Equal(t, s.Snapshot()[0].ResponseTimeAnalysis, rows[0].ResponseTimeAnalysis)
	assert.Equal(t, "trend is up", *rows[0].AnalysisReport)
	assert.Nil(t, rows[1].NextAction, "terminal row keeps a null action")
	assert.Nil(t, rows[1].AnalysisReport)
	assert.Nil(t, rows[1].ResponseTimeTrade)
	assert.True(t, rows[1].Timestamp.Equal(ts(5)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestResumeReloadsTypedTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	s, err := Open(path, PolicyFresh)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(sampleRow(1, types.Buy)))
	require.NoError(t, s.Upsert(sampleRow(2, types.Hold)))

	resumed, err := Open(path, PolicyResume)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Len())
	assert.Equal(t, types.Buy, *resumed.Snapshot()[0].NextAction)
	assert.InDelta(t, 1.25, *resumed.Snapshot()[0].ResponseTimeAnalysis, 1e-12)

	fresh, err := Open(path, PolicyFresh)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Len())
}

func TestResumeWithoutFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	s, err := Open(path, PolicyResume)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestResumeRejectsBadColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	doc := "timestamp,open,high,low,close,volume,next_action,current_cash,current_position\n" +
		"2024-09-01T09:00:00,100,110,90,abc,1,0,1000,0\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Open(path, PolicyResume)
	var ce *CoercionError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ColClose, ce.Column)
}

func TestReadTableCoercesIntegralFloatsAndBlanks(t *testing.T) {
	doc := "timestamp,open,high,low,close,volume,next_action,current_cash,current_position\n" +
		"2024-09-02 09:00:00,1,1,1,1,1,,10,0\n" +
		"2024-09-01T09:00:00,1,1,1,1,1,-1.0,10,0\n"
	header, rows, err := ReadTable(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Len(t, header, 9)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Timestamp.Equal(ts(1)), "sorted on load")
	assert.Equal(t, types.Sell, *rows[0].NextAction)
	assert.Nil(t, rows[1].NextAction)

	_, _, err = ReadTable(strings.NewReader(strings.Replace(doc, "-1.0", "2", 1)))
	var ce *CoercionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ColNextAction, ce.Column)
}

func TestReadTableEmptyAndHeaderOnly(t *testing.T) {
	header, rows, err := ReadTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Empty(t, rows)

	header, rows, err = ReadTable(strings.NewReader("timestamp,open\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "open"}, header)
	assert.Empty(t, rows)
}

func TestReadHeaderSkipsRows(t *testing.T) {
	// The row would fail coercion; the header alone must still come back.
	header, err := ReadHeader(strings.NewReader("\xef\xbb\xbfdatetime , open\nnot-a-date,x\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"datetime", "open"}, header)

	header, err = ReadHeader(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Nil(t, header)
}

func TestUpsertValuesCoerces(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "run.csv"), PolicyFresh)
	require.NoError(t, err)

	err = s.UpsertValues(map[string]any{
		ColTimestamp:            "2024-09-01 09:00:00",
		ColOpen:                 "100.5",
		ColHigh:                 101,
		ColLow:                  99.0,
		ColClose:                100.0,
		ColVolume:               int64(7),
		ColNextAction:           1,
		ColCurrentCash:          1000.0,
		ColCurrentPosition:      0,
		ColAnalysisReport:       "report",
		ColTradingReason:        nil,
		ColResponseTimeAnalysis: "0.75",
	})
	require.NoError(t, err)
	row := s.Snapshot()[0]
	assert.Equal(t, 100.5, row.Open)
	assert.Equal(t, 7.0, row.Volume)
	assert.Equal(t, types.Buy, *row.NextAction)
	assert.Nil(t, row.TradingReason)
	assert.Nil(t, row.ResponseTimeTrade)
	assert.InDelta(t, 0.75, *row.ResponseTimeAnalysis, 1e-12)
}

func TestUpsertValuesNamesBadColumn(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "run.csv"), PolicyFresh)
	require.NoError(t, err)

	cases := map[string]map[string]any{
		ColOpen:                 {ColTimestamp: ts(1), ColOpen: "not-a-number"},
		ColNextAction:           {ColTimestamp: ts(1), ColNextAction: 5},
		ColResponseTimeTrade:    {ColTimestamp: ts(1), ColResponseTimeTrade: struct{}{}},
		ColTimestamp:            {ColTimestamp: "yesterday"},
		ColAnalysisReport:       {ColTimestamp: ts(1), ColAnalysisReport: 12},
		ColResponseTimeAnalysis: {ColTimestamp: ts(1), ColResponseTimeAnalysis: "fast"},
	}
	for col, values := range cases {
		err := s.UpsertValues(values)
		var ce *CoercionError
		require.True(t, errors.As(err, &ce), "%s: %v", col, err)
		assert.Equal(t, col, ce.Column)
	}
	assert.Equal(t, 0, s.Len())

	assert.Error(t, s.UpsertValues(map[string]any{ColTimestamp: ts(1), "bogus": 1}))
	assert.Error(t, s.UpsertValues(map[string]any{ColOpen: 1.0}))
}

func TestUpsertRejectsZeroTimestamp(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "run.csv"), PolicyFresh)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Upsert(Row{}), ErrZeroTimestamp)
}

func TestNaNWrittenAsBlank(t *testing.T) {
	r := sampleRow(1, types.Hold)
	r.Volume = math.NaN()
	c := r.toCSV()
	assert.Equal(t, "", c.Volume)
	back, err := c.toRow()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(back.Volume))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("resume")
	require.NoError(t, err)
	assert.Equal(t, PolicyResume, p)
	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFresh, p)
	_, err = ParsePolicy("append")
	assert.Error(t, err)
}
