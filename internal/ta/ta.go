package ta

import (
	"fmt"
	"math"
	"strings"

	"llm-backtester/internal/types"
)

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average of vals seeded with the
// SMA of the first n values. Entries before the seed are NaN.
func EMASeries(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(vals) < n {
		return out
	}
	k := 2.0 / float64(n+1)
	seed := 0.0
	for i := 0; i < n; i++ {
		seed += vals[i]
	}
	out[n-1] = seed / float64(n)
	for i := n; i < len(vals); i++ {
		out[i] = vals[i]*k + out[i-1]*(1-k)
	}
	return out
}

func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}

func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		sum += tr
	}
	return sum / float64(period)
}

// MACD uses the 12/26/9 convention. It needs at least 34 closes; the
// backtest warm-up of 40 candles exists for this reason.
func MACD(closes []float64) (macd, signal, hist float64) {
	fast := EMASeries(closes, 12)
	slow := EMASeries(closes, 26)
	line := make([]float64, 0, len(closes))
	for i := range closes {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			line = append(line, fast[i]-slow[i])
		}
	}
	sig := EMASeries(line, 9)
	if len(sig) == 0 || math.IsNaN(sig[len(sig)-1]) {
		return math.NaN(), math.NaN(), math.NaN()
	}
	macd = line[len(line)-1]
	signal = sig[len(sig)-1]
	return macd, signal, macd - signal
}

type Params struct {
	SMAWindows []int
	RSIPeriod  int
	BBWindow   int
	BBStdDev   float64
	ATRPeriod  int
}

func DefaultParams() Params {
	return Params{SMAWindows: []int{5, 20}, RSIPeriod: 14, BBWindow: 20, BBStdDev: 2, ATRPeriod: 14}
}

type Snapshot struct {
	SMA        map[int]float64
	RSI        float64
	BB         struct{ Middle, Upper, Lower float64 }
	ATR        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// Compute evaluates every indicator on the last candle of cs.
func Compute(cs []types.Candle, p Params) Snapshot {
	closes := make([]float64, len(cs))
	highs := make([]float64, len(cs))
	lows := make([]float64, len(cs))
	for i, c := range cs {
		closes[i], highs[i], lows[i] = c.Close, c.High, c.Low
	}

	s := Snapshot{SMA: make(map[int]float64, len(p.SMAWindows))}
	for _, w := range p.SMAWindows {
		s.SMA[w] = SMA(closes, w)
	}
	s.RSI = RSI(closes, p.RSIPeriod)
	s.BB.Middle, s.BB.Upper, s.BB.Lower = Bollinger(closes, p.BBWindow, p.BBStdDev)
	s.ATR = ATR(highs, lows, closes, p.ATRPeriod)
	s.MACD, s.MACDSignal, s.MACDHist = MACD(closes)
	return s
}

// Render formats the snapshot one indicator per line, skipping values that
// could not be computed from the available history.
func (s Snapshot) Render(windows []int) string {
	var b strings.Builder
	line := func(name string, v float64) {
		if !math.IsNaN(v) {
			fmt.Fprintf(&b, "%s: %.4f\n", name, v)
		}
	}
	for _, w := range windows {
		line(fmt.Sprintf("SMA(%d)", w), s.SMA[w])
	}
	line("RSI", s.RSI)
	line("Bollinger middle", s.BB.Middle)
	line("Bollinger upper", s.BB.Upper)
	line("Bollinger lower", s.BB.Lower)
	line("ATR", s.ATR)
	line("MACD", s.MACD)
	line("MACD signal", s.MACDSignal)
	line("MACD histogram", s.MACDHist)
	return strings.TrimRight(b.String(), "\n")
}
