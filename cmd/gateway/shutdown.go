package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// runGateway runs the gateway until SIGINT or SIGTERM.
func runGateway(cfg *config.Config, logger observability.Logger) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}

	if err := app.start(context.Background()); err != nil {
		app.shutdown(context.Background())
		return err
	}

	waitForShutdown(app, logger)
	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown.
func waitForShutdown(app *application, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	app.shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}
