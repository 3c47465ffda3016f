package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/formgate/internal/config"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

// run starts formgate and blocks until SIGINT or SIGTERM.
func run(cfg *config.Config, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApplication(ctx, cfg, logger)
	return app.serve(ctx, logger)
}

// serve runs the server until ctx is done, then shuts down gracefully.
func (a *application) serve(ctx context.Context, logger observability.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		a.close(logger)
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	return a.shutdown(logger, errCh)
}

// shutdown drains in-flight requests, then releases the stores and flushes
// pending alerts.
func (a *application) shutdown(logger observability.Logger, errCh <-chan error) error {
	a.checker.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := a.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
		errs = append(errs, err)
	}
	if err := <-errCh; err != nil {
		errs = append(errs, err)
	}

	a.close(logger)
	logger.Info("formgate stopped")
	return errors.Join(errs...)
}

func (a *application) close(logger observability.Logger) {
	if err := a.resolver.Close(); err != nil {
		logger.Error("failed to close key-value stores", observability.Error(err))
	}
	if w, ok := a.alerter.(interface{ Wait() }); ok {
		w.Wait()
	}
}
