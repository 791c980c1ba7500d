package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finman/internal/amqp"
	"finman/internal/chart"
	"finman/internal/core"
	"finman/internal/ledger"
	"finman/internal/log"
	"finman/internal/services"
	"finman/internal/sheets"
)

// ReportWorker keeps derived artifacts of a ledger (chart images and an
// optional spreadsheet export) in step with the ledger itself.
type ReportWorker struct {
	store     ledger.Store
	renderer  *chart.Renderer
	reportDir string
	exporter  sheets.LedgerExporter
	logger    *log.Logger
}

// NewReportWorker creates a worker. exporter may be nil.
func NewReportWorker(store ledger.Store, renderer *chart.Renderer, reportDir string, exporter sheets.LedgerExporter, logger *log.Logger) *ReportWorker {
	if logger == nil {
		logger = log.Nop()
	}
	return &ReportWorker{
		store:     store,
		renderer:  renderer,
		reportDir: reportDir,
		exporter:  exporter,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerChanged processes a single ledger change message from AMQP
func (w *ReportWorker) HandleLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing ledger change",
		log.FieldUser, msg.User,
		log.FieldOperation, msg.Operation,
		log.FieldRevision, msg.Revision)

	return w.Refresh(ctx, msg.User)
}

// Refresh reloads user's ledger and regenerates its charts and export.
func (w *ReportWorker) Refresh(ctx context.Context, user string) error {
	records, err := w.store.LoadUser(ctx, user)
	if err != nil {
		return fmt.Errorf("load ledger for %q: %w", user, err)
	}

	report, err := services.BuildReport(records)
	if err != nil && !errors.Is(err, core.ErrEmptyResult) {
		return fmt.Errorf("build report for %q: %w", user, err)
	}

	written, err := w.renderer.WriteReport(w.reportDir, user, report)
	if err != nil {
		return fmt.Errorf("render charts for %q: %w", user, err)
	}

	if w.exporter != nil {
		if err := w.exporter.ExportLedger(ctx, user, records, report); err != nil {
			return fmt.Errorf("export ledger for %q: %w", user, err)
		}
	}

	w.logger.InfoContext(ctx, "Ledger artifacts refreshed",
		log.FieldUser, user,
		log.FieldRecords, len(records),
		"charts", len(written),
		"exported", w.exporter != nil)
	return nil
}

// RefreshAll refreshes every user the store knows about. It is the backup
// path for change messages that were lost while the worker was down.
func (w *ReportWorker) RefreshAll(ctx context.Context) error {
	lister, ok := w.store.(ledger.UserLister)
	if !ok {
		w.logger.WarnContext(ctx, "Ledger store cannot list users, skipping full refresh")
		return nil
	}
	users, err := lister.Users(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	successCount, errorCount := 0, 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Refresh(ctx, user); err != nil {
			w.logger.LogError(ctx, "Failed to refresh ledger artifacts", err, log.OpRender,
				log.NewFields().WithUser(user))
			errorCount++
			continue
		}
		successCount++
	}

	w.logger.InfoContext(ctx, "Full refresh completed",
		"total", len(users),
		"refreshed", successCount,
		"errors", errorCount)
	return nil
}

// RunPeriodic calls RefreshAll every interval until ctx is done.
func (w *ReportWorker) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.RefreshAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.LogError(ctx, "Periodic refresh failed", err, log.OpRender, nil)
			}
		}
	}
}
