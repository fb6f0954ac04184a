package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paydash/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables and the ClickHouse fact table, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.Component("migrate")

			ctx, cancel := signalContext()
			defer cancel()

			// connect applies both schemas on the way up.
			rt, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cfg.Durable() {
				log.Info("cache mode, no postgres schema to apply")
			}
			if cfg.AnalyticsEnabled() && rt.analytics == nil {
				return fmt.Errorf("clickhouse schema not applied: %w", errAnalyticsDown)
			}
			log.Info("schemas up to date")
			return nil
		},
	}
}
