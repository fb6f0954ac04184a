package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"paydash/internal/api"
	"paydash/internal/config"
	"paydash/internal/logging"
	"paydash/internal/ratelimit"
	"paydash/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		withDriver bool
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API, optionally with the synthetic driver",
		Long: `Run the HTTP API and SSE streams.

Examples:
  paydash serve
  paydash serve --driver
  PAYDASH_MODE=cache paydash serve --driver`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("driver") {
				cfg.DriverEnabled = withDriver
			}
			return runServe(cfg, seed)
		},
	}
	cmd.Flags().BoolVar(&withDriver, "driver", false, "run the synthetic driver in-process (overrides PAYDASH_DRIVER_ENABLED)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "driver random seed, 0 picks one from the clock")
	return cmd
}

func runServe(cfg config.Config, seed int64) error {
	log := logging.Component("serve")
	telemetry.Register()

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	deps := api.Deps{
		Queue:  rt.view,
		Audit:  rt.audit,
		Health: rt.checker(),
	}
	if !cfg.Durable() {
		deps.Clearer = rt.queue
	}
	if rt.analytics != nil {
		deps.Analytics = rt.analytics
	}
	if cfg.RateLimitCapacity > 0 {
		deps.Limiter = ratelimit.NewTokenBucket(rt.redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	if cfg.DriverEnabled {
		d := rt.driver(driverSeed(seed))
		if err := d.Start(ctx); err != nil {
			return err
		}
		defer d.Stop()
	}

	// Streams exit on request context cancellation, so request contexts derive from the signal context.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(cfg, deps, Version).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).WithField("mode", cfg.Mode).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func driverSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
