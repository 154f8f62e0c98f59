package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"

	"llm-backtester/internal/analyzer"
	"llm-backtester/internal/runs"
)

func main() {
	riskFree := flag.Float64("risk-free", 0, "annual risk-free rate used by the Sharpe ratio")
	periods := flag.Float64("periods", 365, "candles per year (365 for daily candles)")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	listRuns := flag.Bool("runs", false, "list registered runs instead of reading a ledger")
	runsDB := flag.String("runs-db", "data/runs.db", "run registry database")
	system := flag.String("system", "", "only list runs of this system (with -runs)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: analyze [flags] <ledger.csv>\n       analyze -runs [-system name]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()
	if v := os.Getenv("BACKTEST_RUNS_DB"); v != "" && !isFlagSet("runs-db") {
		*runsDB = v
	}

	if *listRuns {
		if err := printRuns(*runsDB, *system); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ds, err := analyzer.LoadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load ledger: %v\n", err)
		os.Exit(1)
	}
	summary := ds.Summary()
	metrics := ds.Metrics(*riskFree, *periods)
	bnh := ds.BuyAndHoldPct()

	if *asJSON {
		out := map[string]any{
			"summary":          summary,
			"return_pct":       finite(metrics.ReturnPct),
			"mdd_pct":          finite(metrics.MDDPct),
			"win_rate":         metrics.WinRate,
			"total_trades":     metrics.TotalTrades,
			"sharpe":           finite(metrics.Sharpe),
			"buy_and_hold_pct": finite(bnh),
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}

	printSummary(summary)
	fmt.Println()
	fmt.Printf("Return:        %.2f%%\n", metrics.ReturnPct)
	fmt.Printf("Max drawdown:  %.2f%%\n", metrics.MDDPct)
	fmt.Printf("Win rate:      %.2f%% (%d trades)\n", metrics.WinRate, metrics.TotalTrades)
	fmt.Printf("Sharpe:        %.2f\n", metrics.Sharpe)
	fmt.Printf("Buy and hold:  %.2f%%\n", bnh)
}

func printSummary(s analyzer.Summary) {
	fmt.Printf("Period:   %s ~ %s (%d rows)\n", s.From.Format(time.DateTime), s.To.Format(time.DateTime), s.Rows)
	fmt.Printf("Actions:  BUY %d / HOLD %d / SELL %d\n", s.Actions.Buy, s.Actions.Hold, s.Actions.Sell)
	fmt.Println()
	fmt.Printf("%-10s %8s %16s %16s %16s %16s %16s %16s %16s\n", "", "count", "mean", "std", "min", "25%", "50%", "75%", "max")
	for _, c := range []struct {
		name string
		st   analyzer.Stats
	}{{"cash", s.Cash}, {"position", s.Position}, {"equity", s.Equity}} {
		fmt.Printf("%-10s %8d %16.4f %16.4f %16.4f %16.4f %16.4f %16.4f %16.4f\n",
			c.name, c.st.Count, c.st.Mean, c.st.Std, c.st.Min, c.st.P25, c.st.P50, c.st.P75, c.st.Max)
	}
}

func printRuns(path, system string) error {
	reg, err := runs.Open(path)
	if err != nil {
		return err
	}
	defer reg.Close()

	list, err := reg.List(context.Background(), system, 50)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No runs registered")
		return nil
	}
	fmt.Printf("%-36s %-20s %-10s %-4s %10s %10s %8s %8s %20s\n", "id", "system", "market", "unit", "return%", "mdd%", "win%", "sharpe", "created")
	for _, r := range list {
		fmt.Printf("%-36s %-20s %-10s %-4s %10.2f %10.2f %8.2f %8.2f %20s\n",
			r.ID, r.SystemName, r.Market, r.Unit, r.ReturnPct, r.MDDPct, r.WinRate, r.Sharpe,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

// finite maps NaN and infinities to null for JSON output.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
