package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevemurr/itable/schema"
	"github.com/stevemurr/itable/table"
)

func newValidateCmd() *cobra.Command {
	var (
		schemaPath string
		strict     bool
	)
	validateCmd := &cobra.Command{
		Use:   "validate RECORDS",
		Short: "Check records against a schema without storing them",
		Long: `Loads RECORDS (a JSON or YAML array of objects, or "-" for stdin) into an
empty table and reports every violation and duplicate key per record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []schema.Option
			if strict {
				opts = append(opts, schema.Strict())
			}
			s, err := loadSchema(schemaPath, cmd.InOrStdin(), opts...)
			if err != nil {
				return err
			}
			tbl, err := table.New(s)
			if err != nil {
				return err
			}

			raw, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			var records []map[string]any
			if err := decodeDoc(args[0], raw, &records); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rejected := 0
			for i, rec := range records {
				res := tbl.Insert(rec)
				if res.OK() {
					fmt.Fprintf(out, "record %d: ok (key %s)\n", i, res.Key.Format(s.KeyFields()))
					continue
				}
				rejected++
				if res.Duplicate {
					fmt.Fprintf(out, "record %d: duplicate key %s\n", i, res.Key.Format(s.KeyFields()))
					continue
				}
				fmt.Fprintf(out, "record %d: %d violation(s)\n", i, len(res.Violations))
				for _, v := range res.Violations {
					fmt.Fprintf(out, "  %s\n", v)
				}
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d records rejected", rejected, len(records))
			}
			return nil
		},
	}
	validateCmd.Flags().StringVar(&schemaPath, "schema", "", "schema document (JSON or YAML)")
	validateCmd.Flags().BoolVar(&strict, "strict", false, "report fields the schema does not declare")
	validateCmd.MarkFlagRequired("schema")
	return validateCmd
}
