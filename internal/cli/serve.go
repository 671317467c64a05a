package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relstore/internal/app"
)

// NewServeCommand keeps the store open and serves /health and /metrics until
// interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health and Prometheus metrics for the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(_ context.Context, a *app.App) error {
				serverErrors, err := a.Start()
				if err != nil {
					return err
				}

				stop := make(chan os.Signal, 1)
				signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(stop)

				_, err = a.WaitForStop(stop, serverErrors)
				return err
			}, app.WithMetricsAddr(addr))
		},
	}
	cmd.Flags().StringVar(&addr, "metrics-addr", ":9464", "listen address for /health and /metrics")
	return cmd
}
