// Package runs keeps a SQLite registry of finished backtests and their KPIs.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"llm-backtester/internal/logger"
)

var ErrNotFound = errors.New("run not found")

type Run struct {
	ID             string
	SystemName     string
	Market         string
	Unit           string
	Start          time.Time
	End            time.Time
	InitialCash    float64
	FeeRate        float64
	AnalysisModel  string
	TradingModel   string
	ReturnPct      float64
	MDDPct         float64
	WinRate        float64
	TotalTrades    int
	Sharpe         float64
	BuyAndHoldPct  float64
	ElapsedSeconds float64
	RecordsPath    string
	CreatedAt      time.Time
}

type Registry struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	system_name TEXT NOT NULL,
	market TEXT NOT NULL,
	unit TEXT NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL,
	initial_cash REAL NOT NULL,
	fee_rate REAL NOT NULL,
	analysis_model TEXT,
	trading_model TEXT,
	return_pct REAL,
	mdd_pct REAL,
	win_rate REAL,
	total_trades INTEGER,
	sharpe REAL,
	buy_and_hold_pct REAL,
	elapsed_seconds REAL,
	records_path TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_system_name ON runs (system_name, created_at);
`

// Open opens (or creates) the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn(context.Background(), "Failed to set WAL mode", "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Record stores a finished run, assigning an ID and creation time when unset.
func (r *Registry) Record(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, system_name, market, unit, start_at, end_at, initial_cash, fee_rate,
			analysis_model, trading_model, return_pct, mdd_pct, win_rate, total_trades, sharpe,
			buy_and_hold_pct, elapsed_seconds, records_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SystemName, run.Market, run.Unit,
		run.Start.Format(time.RFC3339), run.End.Format(time.RFC3339),
		run.InitialCash, run.FeeRate, run.AnalysisModel, run.TradingModel,
		nullable(run.ReturnPct), nullable(run.MDDPct), nullable(run.WinRate), run.TotalTrades,
		nullable(run.Sharpe), nullable(run.BuyAndHoldPct), run.ElapsedSeconds, run.RecordsPath,
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

const selectRuns = `SELECT id, system_name, market, unit, start_at, end_at, initial_cash, fee_rate,
	analysis_model, trading_model, return_pct, mdd_pct, win_rate, total_trades, sharpe,
	buy_and_hold_pct, elapsed_seconds, records_path, created_at FROM runs`

func (r *Registry) Get(ctx context.Context, id string) (Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRuns+` WHERE id = ?`, id)
	if err != nil {
		return Run{}, err
	}
	out, err := scanRuns(rows)
	if err != nil {
		return Run{}, err
	}
	if len(out) == 0 {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out[0], nil
}

// List returns the most recent runs first. An empty systemName lists all.
func (r *Registry) List(ctx context.Context, systemName string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if systemName == "" {
		rows, err = r.db.QueryContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, selectRuns+` WHERE system_name = ? ORDER BY created_at DESC LIMIT ?`, systemName, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			run                                  Run
			start, end, created                  string
			analysisModel, tradingModel, recPath sql.NullString
			ret, mdd, win, sharpe, bnh, elapsed  sql.NullFloat64
			trades                               sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.SystemName, &run.Market, &run.Unit, &start, &end,
			&run.InitialCash, &run.FeeRate, &analysisModel, &tradingModel, &ret, &mdd, &win,
			&trades, &sharpe, &bnh, &elapsed, &recPath, &created); err != nil {
			return nil, err
		}
		var err error
		if run.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, err
		}
		if run.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, err
		}
		if run.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		run.AnalysisModel = analysisModel.String
		run.TradingModel = tradingModel.String
		run.RecordsPath = recPath.String
		run.ReturnPct = orNaN(ret)
		run.MDDPct = orNaN(mdd)
		run.WinRate = orNaN(win)
		run.Sharpe = orNaN(sharpe)
		run.BuyAndHoldPct = orNaN(bnh)
		run.ElapsedSeconds = elapsed.Float64
		run.TotalTrades = int(trades.Int64)
		out = append(out, run)
	}
	return out, rows.Err()
}

// nullable stores NaN as NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
