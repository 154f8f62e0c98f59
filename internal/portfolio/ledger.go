// Package portfolio simulates an all-in / all-out spot account.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"llm-backtester/internal/types"
)

var (
	ErrInvalidSignal = errors.New("portfolio: invalid signal")
	ErrInvalidPrice  = errors.New("portfolio: price must be positive")
)

// Ledger holds cash and coin position for a single asset. A BUY spends all
// cash, a SELL liquidates the whole position, both net of a flat fee.
type Ledger struct {
	cash     decimal.Decimal
	position decimal.Decimal
	feeRate  decimal.Decimal
	history  []types.TradeRecord
}

// FeeRateFromPercent converts a percentage fee (0.08) into a fraction (0.0008).
func FeeRateFromPercent(pct float64) float64 {
	return pct / 100
}

// New creates a ledger with initialCash and a fee expressed as a fraction.
func New(initialCash, feeRate float64) (*Ledger, error) {
	if initialCash < 0 {
		return nil, fmt.Errorf("portfolio: initial cash must be >= 0, got %v", initialCash)
	}
	if feeRate < 0 || feeRate >= 1 {
		return nil, fmt.Errorf("portfolio: fee rate must be in [0, 1), got %v", feeRate)
	}
	return &Ledger{
		cash:     decimal.NewFromFloat(initialCash),
		position: decimal.Zero,
		feeRate:  decimal.NewFromFloat(feeRate),
	}, nil
}

// Apply executes signal at price and appends a TradeRecord. HOLD, a BUY with
// no cash and a SELL with no position leave the account untouched but are
// still recorded, with Action HOLD.
func (l *Ledger) Apply(signal types.Signal, price float64, ts time.Time) (types.TradeRecord, error) {
	if !signal.Valid() {
		return types.TradeRecord{}, fmt.Errorf("%w: %d", ErrInvalidSignal, int(signal))
	}

	p := decimal.NewFromFloat(price)
	rec := types.TradeRecord{
		Time:        ts,
		Requested:   signal,
		Action:      types.Hold,
		TradePrice:  p,
		FeeRate:     l.feeRate,
		CoinsTraded: decimal.Zero,
		Fee:         decimal.Zero,
		Gross:       decimal.Zero,
		Net:         decimal.Zero,
	}

	keep := decimal.NewFromInt(1).Sub(l.feeRate)
	switch {
	case signal == types.Buy && l.cash.IsPositive():
		if !p.IsPositive() {
			return types.TradeRecord{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
		}
		rec.Action = types.Buy
		rec.Gross = l.cash
		rec.Net = l.cash.Mul(keep)
		rec.Fee = rec.Gross.Sub(rec.Net)
		rec.CoinsTraded = rec.Net.Div(p)
		l.position = l.position.Add(rec.CoinsTraded)
		l.cash = decimal.Zero

	case signal == types.Sell && l.position.IsPositive():
		if !p.IsPositive() {
			return types.TradeRecord{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
		}
		rec.Action = types.Sell
		rec.CoinsTraded = l.position
		rec.Gross = l.position.Mul(p)
		rec.Net = rec.Gross.Mul(keep)
		rec.Fee = rec.Gross.Sub(rec.Net)
		l.cash = l.cash.Add(rec.Net)
		l.position = decimal.Zero
	}

	rec.CashAfter = l.cash
	rec.PositionAfter = l.position
	l.history = append(l.history, rec)
	return rec, nil
}

// Liquidate sells any open position at price. It reports false when there
// was nothing to sell, in which case no record is appended.
func (l *Ledger) Liquidate(price float64, ts time.Time) (types.TradeRecord, bool, error) {
	if !l.position.IsPositive() {
		return types.TradeRecord{}, false, nil
	}
	rec, err := l.Apply(types.Sell, price, ts)
	if err != nil {
		return types.TradeRecord{}, false, err
	}
	return rec, true, nil
}

func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

func (l *Ledger) Position() float64 {
	return l.position.InexactFloat64()
}

func (l *Ledger) FeeRate() float64 {
	return l.feeRate.InexactFloat64()
}

// Snapshot returns the current balances as plain floats.
func (l *Ledger) Snapshot() types.Portfolio {
	return types.Portfolio{Cash: l.Cash(), Position: l.Position()}
}

// Equity values the account at price.
func (l *Ledger) Equity(price float64) float64 {
	return l.cash.Add(l.position.Mul(decimal.NewFromFloat(price))).InexactFloat64()
}

// History returns a copy of every record appended so far.
func (l *Ledger) History() []types.TradeRecord {
	out := make([]types.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}
