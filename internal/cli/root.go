// Package cli implements the relstore command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"relstore/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Version string
	Commit  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the relstore CLI.
func NewRootCommand(version, commit string) *cobra.Command {
	opts := &RootOptions{Version: version, Commit: commit}

	cmd := &cobra.Command{
		Use:   "relstore",
		Short: "relstore - entities and relations over SQL",
		Long: `relstore maps a schema of entities and relations onto SQL tables,
answers nested find queries and applies mutations with ordered events.

Configuration comes from relstore.yaml, RELSTORE_* environment variables and
the flags below, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	config.DefineFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewDDLCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewUnlinkCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// NewVersionCommand prints the build version.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "relstore %s (%s)\n", opts.Version, opts.Commit)
			return err
		},
	}
}
