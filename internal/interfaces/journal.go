package interfaces

import (
	"llm-backtester/internal/tradelog"
	"llm-backtester/internal/types"
)

// TradeJournal keeps an append-only audit of ledger operations and decisions.
type TradeJournal interface {
	Append(market string, rec types.TradeRecord) error
	AppendDecision(e tradelog.DecisionEntry) error
}
