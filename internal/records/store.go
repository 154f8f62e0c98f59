// Package records persists the step-by-step ledger of a backtest as a CSV
// table keyed by candle timestamp.
package records

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

// Policy decides what happens to an existing table when a store opens.
type Policy int

const (
	// PolicyFresh deletes any previous table and starts empty.
	PolicyFresh Policy = iota
	// PolicyResume loads the previous table and keeps appending to it.
	PolicyResume
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FRESH", "":
		return PolicyFresh, nil
	case "RESUME":
		return PolicyResume, nil
	}
	return 0, fmt.Errorf("records: unknown policy %q", s)
}

var ErrZeroTimestamp = errors.New("records: row has no timestamp")

// Store keeps the table in memory and rewrites the file after every change.
type Store struct {
	path string
	rows []Row
}

// Open prepares the table at path according to policy. The file always
// exists with at least a header row once Open returns.
func Open(path string, policy Policy) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &Store{path: path}

	switch policy {
	case PolicyFresh:
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	case PolicyResume:
		f, err := os.Open(path)
		switch {
		case err == nil:
			_, rows, rerr := ReadTable(f)
			f.Close()
			if rerr != nil {
				return nil, fmt.Errorf("records: load %s: %w", path, rerr)
			}
			s.rows = rows
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	default:
		return nil, fmt.Errorf("records: unknown policy %d", policy)
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int { return len(s.rows) }

// Upsert replaces the row with the same timestamp or inserts it in order,
// then rewrites the file.
func (s *Store) Upsert(row Row) error {
	if row.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].Timestamp.Before(row.Timestamp)
	})
	if i < len(s.rows) && s.rows[i].Timestamp.Equal(row.Timestamp) {
		s.rows[i] = row
	} else {
		s.rows = append(s.rows, Row{})
		copy(s.rows[i+1:], s.rows[i:])
		s.rows[i] = row
	}
	return s.persist()
}

// UpsertValues coerces loosely typed values into a Row and upserts it.
func (s *Store) UpsertValues(values map[string]any) error {
	row, err := RowFromValues(values)
	if err != nil {
		return err
	}
	return s.Upsert(row)
}

// Snapshot returns a copy of the table in timestamp order.
func (s *Store) Snapshot() []Row {
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// Lookup returns the row stored for ts.
func (s *Store) Lookup(ts time.Time) (Row, bool) {
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].Timestamp.Before(ts)
	})
	if i < len(s.rows) && s.rows[i].Timestamp.Equal(ts) {
		return s.rows[i], true
	}
	return Row{}, false
}

// persist writes to a temp file in the same directory and renames it over
// the table so readers never see a half-written file.
func (s *Store) persist() error {
	out := make([]csvRow, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.toCSV()
	}

	var buf bytes.Buffer
	if err := gocsv.Marshal(&out, &buf); err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// ReadTable decodes a ledger CSV. It returns the header as found in the file
// so callers can check which columns are present, and the typed rows sorted
// by timestamp. An empty input is an empty table.
// ReadHeader returns the trimmed column names of a ledger CSV without
// decoding any row. An empty input has no columns.
func ReadHeader(r io.Reader) ([]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	return readHeader(csv.NewReader(bytes.NewReader(b)))
}

func readHeader(cr *csv.Reader) ([]string, error) {
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("records: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}

func ReadTable(r io.Reader) ([]string, []Row, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil, nil
	}

	cr := csv.NewReader(bytes.NewReader(b))
	header, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	if _, err := cr.Read(); errors.Is(err, io.EOF) {
		return header, []Row{}, nil
	}

	var raw []csvRow
	if err := gocsv.UnmarshalBytes(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("records: decode: %w", err)
	}

	rows := make([]Row, 0, len(raw))
	for i, c := range raw {
		row, err := c.toRow()
		if err != nil {
			return nil, nil, fmt.Errorf("records: line %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return header, rows, nil
}
