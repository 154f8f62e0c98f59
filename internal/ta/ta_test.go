package ta

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"llm-backtester/internal/types"
)

func TestSMA(t *testing.T) {
	assert.Equal(t, 3.5, SMA([]float64{1, 2, 3, 4}, 2))
	assert.True(t, math.IsNaN(SMA([]float64{1}, 2)))
}

func TestRSIAllGains(t *testing.T) {
	assert.Equal(t, 100.0, RSI([]float64{1, 2, 3, 4, 5}, 4))
}

func TestEMASeriesSeedsWithSMA(t *testing.T) {
	ema := EMASeries([]float64{1, 2, 3, 4}, 3)
	assert.True(t, math.IsNaN(ema[1]))
	assert.Equal(t, 2.0, ema[2])
	assert.InDelta(t, 3.0, ema[3], 1e-12)
}

func TestMACDNeedsHistory(t *testing.T) {
	short := make([]float64, 30)
	m, _, _ := MACD(short)
	assert.True(t, math.IsNaN(m))

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 10
	}
	m, s, h := MACD(flat)
	assert.InDelta(t, 0, m, 1e-12)
	assert.InDelta(t, 0, s, 1e-12)
	assert.InDelta(t, 0, h, 1e-12)
}

func TestComputeAndRender(t *testing.T) {
	cs := make([]types.Candle, 40)
	for i := range cs {
		p := 100 + float64(i)
		cs[i] = types.Candle{Ts: time.Unix(int64(i)*86400, 0), Open: p, High: p + 2, Low: p - 2, Close: p + 1}
	}
	p := DefaultParams()
	snap := Compute(cs, p)

	assert.InDelta(t, 138, snap.SMA[5], 1e-9)
	assert.Equal(t, 100.0, snap.RSI)
	assert.Greater(t, snap.MACD, 0.0)
	assert.InDelta(t, 4, snap.ATR, 1e-9)

	out := snap.Render(p.SMAWindows)
	assert.True(t, strings.HasPrefix(out, "SMA(5): 138.0000"))
	assert.Contains(t, out, "MACD histogram")

	few := Compute(cs[:3], p).Render(p.SMAWindows)
	assert.NotContains(t, few, "RSI")
}
