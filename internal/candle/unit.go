// Package candle describes the candle granularities the exchange serves.
package candle

import (
	"sort"
	"time"
)

// DefaultUnit is used when a configured unit is not in the table.
const DefaultUnit = "1d"

// Unit pairs the exchange's resolution path with the candle length.
type Unit struct {
	Name       string
	Resolution string
	Step       time.Duration
}

// Advance moves t forward by n candles.
func (u Unit) Advance(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * u.Step)
}

// Table is a read-only lookup from unit name to Unit. Build it once and share
// the pointer; nothing mutates it after construction.
type Table struct {
	units map[string]Unit
}

// DefaultTable returns the granularities the Upbit candle API supports.
func DefaultTable() *Table {
	return NewTable(
		Unit{Name: "1d", Resolution: "days", Step: 24 * time.Hour},
		Unit{Name: "1h", Resolution: "minutes/60", Step: time.Hour},
		Unit{Name: "15m", Resolution: "minutes/15", Step: 15 * time.Minute},
		Unit{Name: "5m", Resolution: "minutes/5", Step: 5 * time.Minute},
		Unit{Name: "1m", Resolution: "minutes/1", Step: time.Minute},
	)
}

func NewTable(units ...Unit) *Table {
	m := make(map[string]Unit, len(units))
	for _, u := range units {
		m[u.Name] = u
	}
	return &Table{units: m}
}

// Lookup returns the named unit, falling back to DefaultUnit. The bool is
// false when the fallback was used.
func (t *Table) Lookup(name string) (Unit, bool) {
	if u, ok := t.units[name]; ok {
		return u, true
	}
	return t.units[DefaultUnit], false
}

func (t *Table) Names() []string {
	out := make([]string, 0, len(t.units))
	for k := range t.units {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DaysBetween counts calendar days from a to b, ignoring the time of day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
