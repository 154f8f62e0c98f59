package tradelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backtester/internal/types"
)

func TestAppendAndReadTrades(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "run1")
	require.NoError(t, err)

	ts := time.Date(2024, 9, 2, 9, 0, 0, 0, types.KST)
	rec := types.TradeRecord{
		Time:          ts,
		Requested:     types.Buy,
		Action:        types.Buy,
		TradePrice:    decimal.NewFromInt(1000),
		CoinsTraded:   decimal.RequireFromString("999.2"),
		PositionAfter: decimal.RequireFromString("999.2"),
	}
	require.NoError(t, j.Append("KRW-BTC", rec))
	require.NoError(t, j.Append("KRW-BTC", types.TradeRecord{Time: ts.AddDate(0, 0, 1), Requested: types.Sell, Action: types.Hold}))
	require.NoError(t, j.AppendDecision(DecisionEntry{Time: ts, Market: "KRW-BTC", Action: "BUY", Reason: "up"}))

	got, err := ReadTrades(j.TradesPath())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "KRW-BTC", got[0].Market)
	assert.True(t, got[0].CoinsTraded.Equal(decimal.RequireFromString("999.2")))
	assert.True(t, got[0].Time.Equal(ts))
	assert.Equal(t, types.Sell, got[1].Requested)
	assert.False(t, got[1].Executed())

	_, err = os.Stat(j.DecisionsPath())
	assert.NoError(t, err)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "old")
	require.NoError(t, err)
	require.NoError(t, j.Append("KRW-ETH", types.TradeRecord{Action: types.Hold}))

	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(j.TradesPath(), old, old))

	fresh, err := Open(dir, "fresh")
	require.NoError(t, err)
	require.NoError(t, fresh.Append("KRW-ETH", types.TradeRecord{Action: types.Hold}))

	require.NoError(t, CompressOlder(dir, 7))

	_, err = os.Stat(j.TradesPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.TradesPath())
	assert.NoError(t, err)

	got, err := ReadTrades(filepath.Join(dir, "old.jsonl.gz"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "KRW-ETH", got[0].Market)
}
