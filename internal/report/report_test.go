package report

import (
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backtester/internal/analyzer"
	"llm-backtester/internal/backtest"
	"llm-backtester/internal/portfolio"
	"llm-backtester/internal/types"
)

func history(t *testing.T) []types.TradeRecord {
	t.Helper()
	l, err := portfolio.New(1_000_000, 0.0008)
	require.NoError(t, err)
	ts := time.Date(2024, 9, 1, 9, 0, 0, 0, types.KST)
	for i, step := range []struct {
		sig   types.Signal
		price float64
	}{
		{types.Buy, 1000}, {types.Buy, 1050}, {types.Hold, 1020}, {types.Sell, 1100}, {types.Sell, 1100},
	} {
		_, err := l.Apply(step.sig, step.price, ts.AddDate(0, 0, i))
		require.NoError(t, err)
	}
	return l.History()
}

func TestSummarize(t *testing.T) {
	s := Summarize(history(t))
	assert.Equal(t, 1, s.Buys)
	assert.Equal(t, 1, s.Sells)
	assert.Equal(t, 2, s.Skipped)
	assert.True(t, s.CoinsBought.Equal(decimal.RequireFromString("999.2")))
	assert.True(t, s.CoinsSold.Equal(s.CoinsBought))
	assert.True(t, s.AvgBuyPrice().Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.AvgSellPrice().Equal(decimal.NewFromInt(1100)))
	// 800 on the buy, 0.08% of 1,099,120 on the sell.
	assert.True(t, s.Fees.Equal(decimal.RequireFromString("1679.296")), s.Fees.String())
}

func TestWrite(t *testing.T) {
	res := &backtest.Result{
		Metrics:       analyzer.Metrics{ReturnPct: 9.824, MDDPct: -1.5, WinRate: 100, TotalTrades: 1, Sharpe: math.NaN()},
		BuyAndHoldPct: 10,
		FinalCash:     1_098_240.704,
		Steps:         5,
		Elapsed:       1500 * time.Millisecond,
	}
	p, err := Write(t.TempDir(), "btc", res, history(t))
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	out := string(b)

	assert.True(t, strings.HasPrefix(out, "metric,value\n"))
	assert.Contains(t, out, "return_pct,9.8240\n")
	assert.Contains(t, out, "sharpe,\n")
	assert.Contains(t, out, "skipped_signals,2\n")
	assert.Contains(t, out, "elapsed_seconds,1.500\n")
}

func TestWriteNilResult(t *testing.T) {
	_, err := Write(t.TempDir(), "x", nil, nil)
	assert.Error(t, err)
}
