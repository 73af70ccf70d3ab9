package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/stevemurr/itable/query"
)

func newBuildQueryCmd() *cobra.Command {
	var (
		base       string
		schemaPath string
	)
	buildCmd := &cobra.Command{
		Use:   "build-query FILTERS",
		Short: "Render filters into a parameterized statement",
		Long: `Reads FILTERS (a JSON or YAML array of {field, op, value, apply, param}, or
"-" for stdin) and prints the statement text and its bindings. Nothing is
executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []query.Option
			if schemaPath != "" {
				s, err := loadSchema(schemaPath, cmd.InOrStdin())
				if err != nil {
					return err
				}
				opts = append(opts, query.WithSchema(s))
			}

			raw, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			var specs []query.FilterSpec
			if err := decodeDoc(args[0], raw, &specs); err != nil {
				return err
			}

			stmt, err := query.New(base, opts...).Build(query.Filters(specs))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stmt)
		},
	}
	buildCmd.Flags().StringVar(&base, "base", "", `base statement ending in a WHERE clause, e.g. "SELECT * FROM users WHERE 1=1"`)
	buildCmd.Flags().StringVar(&schemaPath, "schema", "", "restrict filter fields to those declared by this schema")
	buildCmd.MarkFlagRequired("base")
	return buildCmd
}
