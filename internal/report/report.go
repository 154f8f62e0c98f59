// Package report writes the end-of-run KPI sheet.
package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"llm-backtester/internal/backtest"
	"llm-backtester/internal/types"
)

// TradeStats aggregates the ledger history of a run.
type TradeStats struct {
	Buys         int
	Sells        int
	Skipped      int
	CoinsBought  decimal.Decimal
	CoinsSold    decimal.Decimal
	BuyNotional  decimal.Decimal
	SellNotional decimal.Decimal
	Fees         decimal.Decimal
}

// Skipped counts BUY/SELL signals the ledger could not act on.
func Summarize(history []types.TradeRecord) TradeStats {
	var s TradeStats
	for _, r := range history {
		switch r.Action {
		case types.Buy:
			s.Buys++
			s.CoinsBought = s.CoinsBought.Add(r.CoinsTraded)
			s.BuyNotional = s.BuyNotional.Add(r.CoinsTraded.Mul(r.TradePrice))
		case types.Sell:
			s.Sells++
			s.CoinsSold = s.CoinsSold.Add(r.CoinsTraded)
			s.SellNotional = s.SellNotional.Add(r.Gross)
		default:
			if r.Requested != types.Hold {
				s.Skipped++
			}
		}
		s.Fees = s.Fees.Add(r.Fee)
	}
	return s
}

func (s TradeStats) AvgBuyPrice() decimal.Decimal {
	if s.CoinsBought.IsZero() {
		return decimal.Zero
	}
	return s.BuyNotional.Div(s.CoinsBought)
}

func (s TradeStats) AvgSellPrice() decimal.Decimal {
	if s.CoinsSold.IsZero() {
		return decimal.Zero
	}
	return s.SellNotional.Div(s.CoinsSold)
}

type kpiRow struct {
	Metric string `csv:"metric"`
	Value  string `csv:"value"`
}

func rows(res *backtest.Result, stats TradeStats) []kpiRow {
	f := func(v float64, prec int) string {
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
	return []kpiRow{
		{"return_pct", f(res.Metrics.ReturnPct, 4)},
		{"mdd_pct", f(res.Metrics.MDDPct, 4)},
		{"win_rate", f(res.Metrics.WinRate, 2)},
		{"total_trades", strconv.Itoa(res.Metrics.TotalTrades)},
		{"sharpe", f(res.Metrics.Sharpe, 4)},
		{"buy_and_hold_pct", f(res.BuyAndHoldPct, 4)},
		{"final_cash", f(res.FinalCash, 4)},
		{"final_position", f(res.FinalPosition, 8)},
		{"steps", strconv.Itoa(res.Steps)},
		{"elapsed_seconds", f(res.Elapsed.Seconds(), 3)},
		{"buys", strconv.Itoa(stats.Buys)},
		{"sells", strconv.Itoa(stats.Sells)},
		{"skipped_signals", strconv.Itoa(stats.Skipped)},
		{"coins_bought", stats.CoinsBought.StringFixed(8)},
		{"coins_sold", stats.CoinsSold.StringFixed(8)},
		{"avg_buy_price", stats.AvgBuyPrice().StringFixed(4)},
		{"avg_sell_price", stats.AvgSellPrice().StringFixed(4)},
		{"fees_paid", stats.Fees.StringFixed(4)},
	}
}

// Write saves the KPI sheet for run to <dir>/<run>.csv and returns the path.
func Write(dir, run string, res *backtest.Result, history []types.TradeRecord) (string, error) {
	if res == nil {
		return "", fmt.Errorf("report: nil result")
	}
	kpis := rows(res, Summarize(history))
	var buf bytes.Buffer
	if err := gocsv.Marshal(&kpis, &buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(dir, run+".csv")
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return out, nil
}
