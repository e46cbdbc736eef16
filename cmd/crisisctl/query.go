package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/crisis-data-service/internal/adapter/databricks"
	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/insight"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/spf13/cobra"
)

func newQueryCommand(root *rootOptions) *cobra.Command {
	var (
		table  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "query [statement]",
		Short: "Run a statement on the SQL warehouse and print the rows as JSON",
		Long: `Run a statement on the configured Databricks SQL warehouse and print
the rows as a JSON array, keys in column order.

With no statement, selects every row of the crises table.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			exec := databricks.NewExecutorFromConfig(cfg, observability.NewMetrics(), logger)
			if exec == nil {
				return errors.New("databricks warehouse not configured: set DATABRICKS_PAT, DATABRICKS_SERVER_HOSTNAME, DATABRICKS_WAREHOUSE_ID")
			}

			statement := insight.TopCrisesSQL(cfg.QualifiedTable())
			if table != "" {
				statement = insight.TopCrisesSQL(table)
			}
			if len(args) == 1 {
				statement = args[0]
			}
			logger.Debug("executing statement", "statement", statement)

			rows, err := exec.Execute(cmd.Context(), statement)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = domain.RecordSet{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if output == "pretty" {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(rows); err != nil {
				return fmt.Errorf("encode rows: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "crises table when no statement is given (default DATABRICKS_TOP_CRISES_TABLE)")
	cmd.Flags().StringVarP(&output, "output", "o", "pretty", "output style (pretty|compact)")

	return cmd
}
