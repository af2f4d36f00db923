package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
)

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources (database schema)",
	}

	cmd.AddCommand(schemaCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var (
		databaseURL string
		printOnly   bool
	)

	c := &cobra.Command{
		Use:   "schema",
		Short: "Apply the embedded verification DDL",
		Long:  "Apply the embedded verification DDL in one transaction. Statements are idempotent, so re-running is safe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				for _, stmt := range persistence.SchemaStatements() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", strings.TrimSpace(stmt))
				}
				return nil
			}
			if strings.TrimSpace(databaseURL) == "" {
				return fmt.Errorf("--database-url is required unless --print is set")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "permitdesk-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapSchema(ctx, pool); err != nil {
				return fmt.Errorf("bootstrap schema: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%d statements).\n", len(persistence.SchemaStatements()))
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")

	return c
}
