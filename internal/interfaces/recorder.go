package interfaces

import "llm-backtester/internal/records"

type RecordStore interface {
	Upsert(row records.Row) error
	Snapshot() []records.Row
}
