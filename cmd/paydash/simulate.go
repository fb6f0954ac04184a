package main

import (
	"github.com/spf13/cobra"

	"paydash/internal/logging"
	"paydash/internal/telemetry"
)

func simulateCmd() *cobra.Command {
	var (
		seed   int64
		once   bool
		update int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run only the synthetic driver against the configured stores",
		Long: `Generate synthetic batches and walk them through the lifecycle.

Examples:
  paydash simulate
  paydash simulate --once --updates 5
  paydash simulate --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			telemetry.Register()
			log := logging.Component("simulate")

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			d := rt.driver(driverSeed(seed))
			if once {
				if err := d.InsertOnce(ctx); err != nil {
					return err
				}
				for i := 0; i < update; i++ {
					if _, err := d.UpdateOnce(ctx); err != nil {
						return err
					}
				}
				log.Info("single pass complete")
				return nil
			}

			if err := d.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			d.Stop()
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 picks one from the clock")
	cmd.Flags().BoolVar(&once, "once", false, "insert one batch, apply --updates update ticks and exit")
	cmd.Flags().IntVar(&update, "updates", 0, "update ticks to run with --once")
	return cmd
}
