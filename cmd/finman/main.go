// Command finman is the interactive terminal ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"finman/internal/amqp"
	"finman/internal/auth"
	"finman/internal/chart"
	"finman/internal/cli"
	"finman/internal/log"
	"finman/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "finman:", err)
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	// stdout belongs to the menus
	logger := cli.SetupLogger(cfg, log.ComponentShell, os.Stderr)

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
			logger.Warn("AMQP unavailable, charts will only refresh locally", log.FieldError, err)
		} else {
			defer client.Close()
			notifier = client.WithLogger(logger)
		}
	}

	shell := cli.NewShell(os.Stdin, os.Stdout, cli.ShellDeps{
		Auth:      auth.NewStore(cfg.UsersFile, auth.WithLogger(logger)),
		Ledger:    result.Store,
		Renderer:  chart.NewRenderer(cfg.CurrencySymbol),
		Notifier:  notifier,
		ReportDir: cfg.ReportDir,
		Symbol:    cfg.CurrencySymbol,
		Logger:    logger,
	})
	if err := shell.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
