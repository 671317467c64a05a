package cli

import (
	"context"

	"github.com/spf13/cobra"

	"relstore/internal/app"
	"relstore/internal/planner"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Attributes string
	Match      string
	Modifier   string
	One        bool
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <record>",
		Short: "Query records with nested attributes",
		Long: `Query records of an entity or relation.

Example:
  relstore find User --attrs '["name", ["member", {"attributeQuery": ["name"]}]]' \
    --match '{"key": "age", "value": [">", 18]}' --modifier '{"orderBy": {"name": "asc"}, "limit": 10}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Attributes, "attrs", `["id"]`, "attribute query as JSON")
	cmd.Flags().StringVar(&opts.Match, "match", "", "match expression as JSON")
	cmd.Flags().StringVar(&opts.Modifier, "modifier", "", "modifier as JSON (orderBy, limit, offset)")
	cmd.Flags().BoolVar(&opts.One, "one", false, "return only the first record")

	return cmd
}

func runFind(cmd *cobra.Command, opts *FindOptions, record string) error {
	var rawAttrs []any
	if err := decodeJSON("--attrs", opts.Attributes, &rawAttrs); err != nil {
		return err
	}
	attrs, err := planner.ParseAttributeQuery(rawAttrs)
	if err != nil {
		return err
	}
	match, err := parseMatch(opts.Match)
	if err != nil {
		return err
	}
	var rawModifier map[string]any
	if err := decodeJSON("--modifier", opts.Modifier, &rawModifier); err != nil {
		return err
	}
	modifier, err := planner.ParseModifier(rawModifier)
	if err != nil {
		return err
	}

	return withApp(cmd, opts.RootOptions, nil, func(ctx context.Context, a *app.App) error {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if opts.One {
			rec, err := a.Store().FindOne(ctx, record, match, modifier, attrs)
			if err != nil {
				return err
			}
			return f.Result(rec, nil)
		}
		recs, err := a.Store().Find(ctx, record, match, modifier, attrs)
		if err != nil {
			return err
		}
		return f.Result(recs, nil)
	})
}

func parseMatch(raw string) (*planner.BoolExp, error) {
	var m any
	if err := decodeJSON("--match", raw, &m); err != nil {
		return nil, err
	}
	return planner.ParseMatchExpression(m)
}
