// Command finman-worker keeps report charts and the Google Sheets export in
// step with the ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"finman/internal/amqp"
	"finman/internal/chart"
	"finman/internal/cli"
	"finman/internal/config"
	"finman/internal/log"
	"finman/internal/sheets"
	gsheet "finman/internal/sheets/google"
	"finman/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "finman-worker:", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker, os.Stdout)
	logger.Info("Starting finman-worker")

	if err := run(logger, cfg); err != nil {
		cli.Fatal(logger, "Worker failed", err)
	}
	logger.Info("Worker shutdown complete")
}

func run(logger *log.Logger, cfg *config.Config) error {
	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	result, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer result.Cleanup()

	var exporter sheets.LedgerExporter
	if cfg.SheetsEnabled() {
		client, err := gsheet.NewFromConfig(ctx, gsheet.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetPrefix:        cfg.GoogleSheetPrefix,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		})
		if err != nil {
			return fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		exporter = client.WithLogger(logger)
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	w := worker.NewReportWorker(result.Store, chart.NewRenderer(cfg.CurrencySymbol), cfg.ReportDir, exporter, logger)

	// catch up on changes published while the worker was down
	if err := w.RefreshAll(ctx); err != nil {
		logger.LogError(ctx, "Startup refresh failed", err, log.OpStartup, nil)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("initialize AMQP client: %w", err)
		}
		defer client.Close()
		client.WithLogger(logger)
		g.Go(func() error {
			return ignoreCanceled(client.ConsumeLedgerChanged(gctx, w.HandleLedgerChanged))
		})
	} else {
		logger.Info("AMQP disabled - relying on periodic refresh only")
	}

	if cfg.ReportRefreshInterval > 0 {
		g.Go(func() error {
			return ignoreCanceled(w.RunPeriodic(gctx, cfg.ReportRefreshInterval))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
