package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/config"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending Postgres migrations for the usage ledger and the generation event log. The sqlite ledger creates its schema on open.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)

			if cfg.Ledger.Driver != config.LedgerPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "ledger driver %q has no migrations to apply\n", cfg.Ledger.Driver)
				return nil
			}
			return database.RunMigrations(cfg.DB.DSN(), cfg.Ledger.MigrationsPath)
		},
	}
}
