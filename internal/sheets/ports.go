package sheets

import (
	"context"

	"finman/internal/core"
)

// Ports for outbound spreadsheet adapters.
type (
	// LedgerExporter publishes a user's ledger and its report to an external
	// spreadsheet, replacing whatever was exported before.
	LedgerExporter interface {
		ExportLedger(ctx context.Context, user string, records []core.Record, report core.Report) error
	}
)
