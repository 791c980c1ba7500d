// Command finman-server serves the ledger over a JSON HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finman/internal/amqp"
	"finman/internal/auth"
	"finman/internal/cache"
	"finman/internal/chart"
	"finman/internal/cli"
	"finman/internal/config"
	apphttp "finman/internal/http"
	"finman/internal/log"
	"finman/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "finman-server:", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp, os.Stdout)

	if err := run(logger, cfg); err != nil {
		cli.Fatal(logger, "Server failed", err)
	}
	logger.Info("Server stopped gracefully")
}

func run(logger *log.Logger, cfg *config.Config) error {
	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	result, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer result.Cleanup()

	var notifier services.ChangeNotifier
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without change events", log.FieldError, err)
		} else {
			defer client.Close()
			notifier = client.WithLogger(logger)
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:   result.Store,
		Auth:     auth.NewStore(cfg.UsersFile, auth.WithLogger(logger)),
		Reports:  cache.NewReportCache(cfg.ReportCacheSize, cfg.ReportCacheTTL),
		Renderer: chart.NewRenderer(cfg.CurrencySymbol),
		Notifier: notifier,
		Logger:   logger,
	}, apphttp.WithRateLimit(cfg.RateLimitPerMinute))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting finman server", "port", cfg.Port, log.FieldBackend, result.Type.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
