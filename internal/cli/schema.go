package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"relstore/internal/app"
	"relstore/internal/config"
)

// NewDDLCommand prints the DDL of the configured schema.
func NewDDLCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ddl",
		Short: "Print the CREATE TABLE statements for the schema",
		Long: `Print the CREATE TABLE statements for the schema without executing them.

Example:
  relstore ddl --storage.schema_file schema.yaml --database.driver mysql --database.dsn 'root@tcp(127.0.0.1:4000)/store'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noCreate := func(cfg *config.Config) { cfg.Storage.CreateTables = false }
			return withApp(cmd, opts, noCreate, func(_ context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					f := &OutputFormatter{Format: opts.Format, Writer: out}
					return f.Result(a.Store().DDL(), nil)
				}
				for _, stmt := range a.Store().DDL() {
					if _, err := fmt.Fprintf(out, "%s;\n", stmt); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// NewMigrateCommand creates the tables of the configured schema.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables for the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			create := func(cfg *config.Config) { cfg.Storage.CreateTables = true }
			return withApp(cmd, opts, create, func(_ context.Context, a *app.App) error {
				tables := len(a.Store().Map().Tables())
				f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				if opts.Format == "json" {
					return f.Result(map[string]int{"tables": tables}, nil)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "created %d tables\n", tables)
				return err
			})
		},
	}
}
