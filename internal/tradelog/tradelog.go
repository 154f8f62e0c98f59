package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"llm-backtester/internal/types"
)

// Entry is one ledger operation as written to the journal.
type Entry struct {
	Market string `json:"market"`
	types.TradeRecord
}

type DecisionEntry struct {
	Time            time.Time      `json:"time"`
	Market          string         `json:"market"`
	Action          string         `json:"action"`
	Reason          string         `json:"reason"`
	AnalysisSeconds float64        `json:"analysis_seconds"`
	TradeSeconds    float64        `json:"trade_seconds"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Journal appends JSON lines for one run: trades to <dir>/<run>.jsonl and
// decisions to <dir>/decisions/<run>.jsonl.
type Journal struct {
	mu           sync.Mutex
	tradesPath   string
	decisionPath string
}

func Open(dir, run string) (*Journal, error) {
	if dir == "" {
		dir = "logs"
	}
	j := &Journal{
		tradesPath:   filepath.Join(dir, run+".jsonl"),
		decisionPath: filepath.Join(dir, "decisions", run+".jsonl"),
	}
	if err := os.MkdirAll(filepath.Dir(j.decisionPath), 0o755); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) TradesPath() string { return j.tradesPath }

func (j *Journal) DecisionsPath() string { return j.decisionPath }

func (j *Journal) Append(market string, rec types.TradeRecord) error {
	return j.appendLine(j.tradesPath, Entry{Market: market, TradeRecord: rec})
}

func (j *Journal) AppendDecision(e DecisionEntry) error {
	return j.appendLine(j.decisionPath, e)
}

func (j *Journal) appendLine(p string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// ReadTrades loads a trade journal, transparently reading .gz archives.
func ReadTrades(p string) ([]Entry, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(p, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// CompressOlder gzips journals under dir last modified more than
// retentionDays ago and removes the originals.
func CompressOlder(dir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// already archived, drop the original
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
