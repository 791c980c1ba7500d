package memory

import (
	"context"
	"sync"

	"finman/internal/core"
	ports "finman/internal/sheets"
)

// Exporter keeps the last export of every user in memory, laid out the same
// way the Google exporter writes it.
type Exporter struct {
	mu      sync.Mutex
	sheets  map[string][][]any
	exports int
}

var _ ports.LedgerExporter = (*Exporter)(nil)

func NewExporter() *Exporter {
	return &Exporter{sheets: map[string][][]any{}}
}

func (e *Exporter) ExportLedger(ctx context.Context, user string, records []core.Record, report core.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := ports.BuildRows(records, report)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sheets[user] = rows
	e.exports++
	return nil
}

// Rows returns the last exported rows for user.
func (e *Exporter) Rows(user string) ([][]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.sheets[user]
	return rows, ok
}

// Exports counts successful exports.
func (e *Exporter) Exports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports
}
