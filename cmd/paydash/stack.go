package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"paydash/internal/analytics"
	"paydash/internal/audit"
	"paydash/internal/config"
	"paydash/internal/health"
	"paydash/internal/logging"
	"paydash/internal/queue"
	"paydash/internal/reconcile"
	"paydash/internal/scheduler"
	"paydash/internal/store"
	"paydash/internal/tracker"
)

var errAnalyticsDown = errors.New("clickhouse not connected")

// stack holds every connected store and the services built on top of them.
// store and analytics are nil when their layer is disabled.
type stack struct {
	cfg       config.Config
	log       *logrus.Entry
	redis     *redis.Client
	queue     *queue.RedisQueue
	trail     *audit.RedisTrail
	store     *store.Store
	analytics *analytics.Store

	tracker *tracker.Tracker
	view    *reconcile.Service
	audit   *audit.Reader
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// retry pings until the dependency answers or StartupTimeout elapses.
func retry(ctx context.Context, cfg config.Config, log *logrus.Entry, name string, ping func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.StartupTimeout

	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		return ping(pctx)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait.String()).Warnf("%s not ready", name)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	log.Infof("%s connected", name)
	return nil
}

// connect dials Redis and, depending on mode, Postgres and ClickHouse. Redis
// and Postgres are required; ClickHouse is optional and disabled on failure.
func connect(ctx context.Context, cfg config.Config) (*stack, error) {
	log := logging.Component("startup")
	rt := &stack{cfg: cfg, log: log}

	rt.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := retry(ctx, cfg, log, "redis", func(ctx context.Context) error {
		return rt.redis.Ping(ctx).Err()
	}); err != nil {
		rt.Close()
		return nil, err
	}
	rt.queue = queue.NewRedisQueue(rt.redis)
	rt.trail = audit.NewRedisTrail(rt.redis, cfg.AuditWindowSize)

	if cfg.Durable() {
		if err := retry(ctx, cfg, log, "postgres", func(ctx context.Context) error {
			st, err := store.New(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			if err := st.Ping(ctx); err != nil {
				st.Close()
				return err
			}
			rt.store = st
			return nil
		}); err != nil {
			rt.Close()
			return nil, err
		}
		applied, err := rt.store.RunMigrations(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.WithField("applied", applied).Info("postgres migrations done")
	}

	if cfg.AnalyticsEnabled() {
		rt.connectAnalytics(ctx)
	}

	rt.wire()
	return rt, nil
}

func (rt *stack) connectAnalytics(ctx context.Context) {
	cfg := rt.cfg
	db := analytics.Open(analytics.Options{
		Addr:        cfg.ClickHouseAddr,
		Database:    cfg.ClickHouseDatabase,
		Username:    cfg.ClickHouseUser,
		Password:    cfg.ClickHousePassword,
		DialTimeout: cfg.StoreTimeout,
	})
	st := analytics.NewStore(db, cache.New(&cache.Options{Redis: rt.redis}), cfg.MetricsCacheTTL)

	pctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := st.Ping(pctx); err != nil {
		rt.log.WithError(err).Warn("clickhouse unavailable, metrics disabled")
		_ = st.Close()
		return
	}
	if err := st.EnsureSchema(pctx); err != nil {
		rt.log.WithError(err).Warn("clickhouse schema setup failed, metrics disabled")
		_ = st.Close()
		return
	}
	rt.analytics = st
	rt.log.Info("clickhouse connected")
}

// wire builds the services. Interfaces only receive non-nil stores so the
// nil checks downstream see a true nil.
func (rt *stack) wire() {
	var (
		durableWriter tracker.DurableStore
		durableLog    audit.DurableLog
		durableSource reconcile.ObjectSource
		completions   tracker.CompletionRecorder
	)
	if rt.store != nil {
		durableWriter = rt.store
		durableLog = rt.store
		durableSource = reconcile.ObjectSourceFunc(rt.store.ListObjects)
	}
	if rt.analytics != nil {
		completions = rt.analytics
	}

	rt.tracker = tracker.New(rt.queue, durableWriter, rt.trail, completions, logging.Component("tracker"))
	rt.view = reconcile.NewService(durableSource, rt.queue, reconcile.Limits{
		Durable: rt.cfg.DurableFetchLimit,
		Overlay: rt.cfg.OverlayFetchLimit,
		Stats:   rt.cfg.StatsScanLimit,
	}, logging.Component("reconcile"))
	rt.audit = audit.NewReader(durableLog, rt.trail, logging.Component("audit"))
}

func (rt *stack) driver(seed int64) *scheduler.Driver {
	cfg := rt.cfg
	return scheduler.New(rt.tracker, reconcile.ObjectSourceFunc(rt.view.View), scheduler.Options{
		InsertMin:      cfg.DriverInsertMin,
		InsertMax:      cfg.DriverInsertMax,
		UpdateMin:      cfg.DriverUpdateMin,
		UpdateMax:      cfg.DriverUpdateMax,
		PageSize:       cfg.DriverPageSize,
		UpdatesPerTick: cfg.DriverUpdatesPerTick,
		ItemsMin:       cfg.DriverItemsMin,
		ItemsMax:       cfg.DriverItemsMax,
		StoreTimeout:   cfg.StoreTimeout,
		Seed:           seed,
	}, logging.Component("driver"))
}

func (rt *stack) checker() *health.Checker {
	c := health.NewChecker(rt.cfg.StoreTimeout)
	c.Require("redis", rt.queue)
	if rt.store != nil {
		c.Require("postgres", rt.store)
	}
	switch {
	case rt.analytics != nil:
		c.Optional("clickhouse", rt.analytics)
	case rt.cfg.AnalyticsEnabled():
		c.Optional("clickhouse", health.PingFunc(func(context.Context) error { return errAnalyticsDown }))
	}
	return c
}

func (rt *stack) Close() {
	if rt.analytics != nil {
		_ = rt.analytics.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
