package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"relstore/internal/app"
	"relstore/internal/event"
	"relstore/internal/storage"
)

// mutation runs fn against the store and prints its result along with the
// events delivered on commit.
func mutation(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error)) error {
	var sink event.Log
	return withApp(cmd, opts, nil, func(ctx context.Context, a *app.App) error {
		out, err := fn(ctx, a.Store(), &sink)
		if err != nil {
			return err
		}
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.Result(out, sink.Events())
	})
}

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <record> <data>",
		Short: "Create a record with nested records and links",
		Long: `Create a record. Nested objects under reference attributes are created
or, when they carry only an id, linked.

Example:
  relstore create User '{"name": "a1", "member": [{"name": "m1"}, {"id": 7}]}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data storage.Record
			if err := decodeJSON("data", args[1], &data); err != nil {
				return err
			}
			return mutation(cmd, opts, func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error) {
				return st.Create(ctx, args[0], data, sink)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "update <record> <data>",
		Short: "Update every record matching --match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := parseMatch(match)
			if err != nil {
				return err
			}
			var data storage.Record
			if err := decodeJSON("data", args[1], &data); err != nil {
				return err
			}
			return mutation(cmd, opts, func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error) {
				if _, isRelation := st.Map().Link(args[0]); isRelation {
					return st.UpdateRelationByName(ctx, args[0], exp, data, sink)
				}
				return st.Update(ctx, args[0], exp, data, sink)
			})
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "match expression as JSON")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "delete <record>",
		Short: "Delete every record matching --match, with its reliant records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := parseMatch(match)
			if err != nil {
				return err
			}
			if exp == nil {
				return &inputError{what: "--match", err: fmt.Errorf("delete requires a match expression")}
			}
			return mutation(cmd, opts, func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error) {
				return st.Delete(ctx, args[0], exp, sink)
			})
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "match expression as JSON")
	return cmd
}

// NewLinkCommand creates the link command.
func NewLinkCommand(opts *RootOptions) *cobra.Command {
	var props string
	cmd := &cobra.Command{
		Use:   "link <relation> <source-id> <target-id>",
		Short: "Link two records through a relation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[1])
			if err != nil {
				return err
			}
			targetID, err := parseID(args[2])
			if err != nil {
				return err
			}
			var data storage.Record
			if err := decodeJSON("--props", props, &data); err != nil {
				return err
			}
			return mutation(cmd, opts, func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error) {
				return st.AddRelationByNameByID(ctx, args[0], sourceID, targetID, data, sink)
			})
		},
	}
	cmd.Flags().StringVar(&props, "props", "", "link properties as JSON")
	return cmd
}

// NewUnlinkCommand creates the unlink command.
func NewUnlinkCommand(opts *RootOptions) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "unlink <relation>",
		Short: "Remove the links of a relation matching --match",
		Long: `Remove links. Match keys are resolved on the link record, so
source.id and target.id select by endpoint.

Example:
  relstore unlink Membership --match '{"key": "source.id", "value": ["=", 1]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := parseMatch(match)
			if err != nil {
				return err
			}
			return mutation(cmd, opts, func(ctx context.Context, st *storage.Storage, sink event.Sink) (any, error) {
				return st.RemoveRelationByName(ctx, args[0], exp, sink)
			})
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "match expression as JSON")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &inputError{what: "id", err: err}
	}
	return id, nil
}
