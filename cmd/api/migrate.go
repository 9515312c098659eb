package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congo-pay/wallet_service/internal/config"
	"github.com/congo-pay/wallet_service/internal/infra"
	"github.com/congo-pay/wallet_service/internal/logging"
	"github.com/congo-pay/wallet_service/migrations"
)

func newMigrateCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the ledger schema",
	}
	cmd.AddCommand(migrateStep(cfgFile, infra.MigrateUp, "Apply all pending migrations"))
	cmd.AddCommand(migrateStep(cfgFile, infra.MigrateDown, "Roll back every migration"))
	return cmd
}

func migrateStep(cfgFile *string, direction infra.MigrateDirection, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL must be set to run migrations")
			}

			logger := logging.New(cfg.LogLevel)
			db, err := infra.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			return infra.Migrate(db, migrations.FS, direction, logger)
		},
	}
}
