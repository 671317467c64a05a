package app

import (
	"context"
	"log/slog"

	"relstore/internal/logging"
)

// cleanupStack manages shutdown functions in LIFO order.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, cleanupItem{name: name, fn: fn})
}

func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) {
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if logger != nil {
			logger.Debug("shutting down " + item.name)
		}
		if err := item.fn(ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup error",
					slog.String("component", item.name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Shutdown releases all acquired resources. It is safe to call multiple times.
// Providers attached after a failed or skipped Init are still shut down.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		initialized := a.initialized
		providers := a.providers
		a.started = false
		a.stateMu.Unlock()

		if !initialized && providers != nil {
			cleanup.push("telemetry providers", func(shutdownCtx context.Context) error {
				return providers.Shutdown(shutdownCtx, a.logger.Logger)
			})
		}
		cleanup.run(ctx, a.logger)
	})

	return nil
}
