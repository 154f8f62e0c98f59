package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// KST is the exchange clock. Candle timestamps are KST wall-clock times.
var KST = time.FixedZone("KST", 9*60*60)

type Candle struct {
	Ts                          time.Time
	Open, High, Low, Close, Vol float64
}

// Signal is the decision-maker's instruction for the next candle.
type Signal int

const (
	Sell Signal = -1
	Hold Signal = 0
	Buy  Signal = 1
)

func (s Signal) Valid() bool {
	return s == Sell || s == Hold || s == Buy
}

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Hold:
		return "HOLD"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// ParseSignal accepts the integer form (-1, 0, 1) or the action name.
func ParseSignal(s string) (Signal, error) {
	v := strings.TrimSpace(s)
	switch strings.ToUpper(v) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	case "HOLD":
		return Hold, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || !Signal(n).Valid() {
		return 0, fmt.Errorf("invalid signal %q", s)
	}
	return Signal(n), nil
}

type Decision struct {
	Signal Signal `json:"signal"`
	Reason string `json:"reason"`
}

// TradeRecord is the ledger's account of one Apply call. Requested is the
// signal passed in, Action is what actually happened.
type TradeRecord struct {
	Time          time.Time       `json:"time"`
	Requested     Signal          `json:"requested"`
	Action        Signal          `json:"action"`
	TradePrice    decimal.Decimal `json:"trade_price"`
	CoinsTraded   decimal.Decimal `json:"coins_traded"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	Fee           decimal.Decimal `json:"fee"`
	Gross         decimal.Decimal `json:"gross"`
	Net           decimal.Decimal `json:"net"`
	CashAfter     decimal.Decimal `json:"cash_after"`
	PositionAfter decimal.Decimal `json:"position_after"`
}

// Executed reports whether the record moved cash or coins.
func (r TradeRecord) Executed() bool {
	return r.Action != Hold
}

type Portfolio struct {
	Cash     float64 `json:"cash"`
	Position float64 `json:"position"`
}

func (p Portfolio) Equity(price float64) float64 {
	return p.Cash + p.Position*price
}
