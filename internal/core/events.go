package core

import "time"

// Ledger mutation kinds carried by LedgerChange.
const (
	OperationAdd    = "add"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// LedgerChange describes a mutation that has been persisted.
type LedgerChange struct {
	User      string
	Operation string
	Index     int
	Records   int
	Revision  int64
	Timestamp time.Time
}
