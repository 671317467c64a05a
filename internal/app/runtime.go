package app

import (
	"fmt"
	"log/slog"
	"os"
)

// Stop reasons reported by WaitForStop.
const (
	StopSignal      = "signal"
	StopServerError = "server_error"
)

// Start launches the metrics server goroutine. It requires Init to have
// completed and an address configured with WithMetricsAddr.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	switch {
	case !a.initialized:
		return nil, fmt.Errorf("app is not initialized")
	case a.srv == nil:
		return nil, fmt.Errorf("no metrics address configured")
	case a.started:
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.logger, a.srv, a.cfg.Observability.MetricsEnabled)
	a.started = true
	return a.serverErrors, nil
}

// WaitForStop blocks until stop delivers a signal or the metrics server
// fails. A nil serverErrors falls back to the channel returned by Start.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("nothing to wait for: both stop and serverErrors are nil")
	}

	// Receiving from a nil channel blocks forever, so a missing source simply
	// never wins the select.
	select {
	case err := <-serverErrors:
		if err == nil {
			return StopServerError, fmt.Errorf("metrics server stopped unexpectedly")
		}
		return StopServerError, fmt.Errorf("metrics server failed: %w", err)
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return StopSignal, nil
	}
}
