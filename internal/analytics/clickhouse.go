// Package analytics answers aggregate questions over completed-event facts
// stored in the ClickHouse audit_completions table.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-redis/cache/v9"
	"github.com/shopspring/decimal"
)

// CompletionEvent is one terminal transition recorded for analytics.
type CompletionEvent struct {
	EventID          string
	AuditID          string
	BatchID          string
	CompanyID        string
	CompanyName      string
	Amount           decimal.Decimal
	Status           string
	Outcome          string
	CompletedAt      time.Time
	ProcessingTimeMs int64
}

type TodaySummary struct {
	TotalEvents       int64   `json:"total_events"`
	TotalAmount       float64 `json:"total_amount"`
	SuccessEvents     int64   `json:"success_events"`
	FailureEvents     int64   `json:"failure_events"`
	SuccessRate       float64 `json:"success_rate"`
	AvgAmountPerEvent float64 `json:"avg_amount_per_event"`
}

type CompanyBreakdown struct {
	CompanyID     string  `json:"company_id"`
	CompanyName   string  `json:"company_name"`
	TotalEvents   int64   `json:"total_events"`
	TotalAmount   float64 `json:"total_amount"`
	SuccessEvents int64   `json:"success_events"`
	FailureEvents int64   `json:"failure_events"`
	SuccessRate   float64 `json:"success_rate"`
}

type HourlyTrend struct {
	Hour         time.Time `json:"hour"`
	EventCount   int64     `json:"event_count"`
	TotalAmount  float64   `json:"total_amount"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
}

type RecentEvent struct {
	EventID          string    `json:"event_id"`
	AuditID          string    `json:"audit_id"`
	CompanyName      string    `json:"company_name"`
	Amount           float64   `json:"amount"`
	Status           string    `json:"status"`
	Outcome          string    `json:"outcome"`
	CompletedAt      time.Time `json:"completed_at"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
}

type PerformanceMetrics struct {
	AvgProcessingTime float64 `json:"avg_processing_time"`
	MinProcessingTime float64 `json:"min_processing_time"`
	MaxProcessingTime float64 `json:"max_processing_time"`
	Percentile95      float64 `json:"percentile_95"`
	TotalProcessed    int64   `json:"total_processed"`
}

// Store runs analytical queries. Reads go through an optional Redis cache.
type Store struct {
	db       *sql.DB
	cache    *cache.Cache
	cacheTTL time.Duration
}

// Options configures the ClickHouse connection.
type Options struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Open connects through clickhouse-go's database/sql driver.
func Open(opts Options) *sql.DB {
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	return clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: dial,
		Settings: clickhouse.Settings{
			"async_insert":          1,
			"wait_for_async_insert": 0,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
}

// NewStore wraps db. c may be nil to disable caching.
func NewStore(db *sql.DB, c *cache.Cache, ttl time.Duration) *Store {
	return &Store{db: db, cache: c, cacheTTL: ttl}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the fact table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_completions (
			event_id           String,
			audit_id           String,
			batch_id           String,
			company_id         String,
			company_name       String,
			amount             Decimal(18, 2),
			status             LowCardinality(String),
			outcome            LowCardinality(String),
			completed_at       DateTime64(3, 'UTC'),
			processing_time_ms Int64
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(completed_at)
		ORDER BY (completed_at, event_id)
	`)
	if err != nil {
		return fmt.Errorf("create audit_completions: %w", err)
	}
	return nil
}

// RecordCompletion inserts one fact row.
func (s *Store) RecordCompletion(ctx context.Context, ev CompletionEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_completions (event_id, audit_id, batch_id, company_id, company_name,
			amount, status, outcome, completed_at, processing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.AuditID, ev.BatchID, ev.CompanyID, ev.CompanyName,
		ev.Amount, ev.Status, ev.Outcome, ev.CompletedAt.UTC(), ev.ProcessingTimeMs)
	if err != nil {
		return fmt.Errorf("insert completion %s: %w", ev.EventID, err)
	}
	return nil
}

// TodaySummary aggregates today's completions.
func (s *Store) TodaySummary(ctx context.Context) (TodaySummary, error) {
	return cached(ctx, s, "today-summary", func() (TodaySummary, error) {
		var sum TodaySummary
		err := s.db.QueryRowContext(ctx, `
			SELECT
				toInt64(count()) AS total_events,
				toFloat64(sum(amount)) AS total_amount,
				toInt64(countIf(outcome = 'SUCCESS')) AS success_events,
				toInt64(countIf(outcome = 'FAILURE')) AS failure_events,
				if(count() > 0, countIf(outcome = 'SUCCESS') * 100.0 / count(), 0) AS success_rate,
				if(count() > 0, toFloat64(sum(amount)) / count(), 0) AS avg_amount_per_event
			FROM audit_completions
			WHERE toDate(completed_at) = today()
		`).Scan(&sum.TotalEvents, &sum.TotalAmount, &sum.SuccessEvents, &sum.FailureEvents, &sum.SuccessRate, &sum.AvgAmountPerEvent)
		if err == sql.ErrNoRows {
			return sum, nil
		}
		if err != nil {
			return TodaySummary{}, fmt.Errorf("today summary: %w", err)
		}
		return sum, nil
	})
}

// CompanyBreakdown groups today's completions by company, largest amount first.
func (s *Store) CompanyBreakdown(ctx context.Context) ([]CompanyBreakdown, error) {
	return cached(ctx, s, "company-breakdown", func() ([]CompanyBreakdown, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT
				company_id,
				company_name,
				toInt64(count()) AS total_events,
				toFloat64(sum(amount)) AS total_amount,
				toInt64(countIf(outcome = 'SUCCESS')) AS success_events,
				toInt64(countIf(outcome = 'FAILURE')) AS failure_events,
				if(count() > 0, countIf(outcome = 'SUCCESS') * 100.0 / count(), 0) AS success_rate
			FROM audit_completions
			WHERE toDate(completed_at) = today()
			GROUP BY company_id, company_name
			ORDER BY total_amount DESC
		`)
		if err != nil {
			return nil, fmt.Errorf("company breakdown: %w", err)
		}
		defer rows.Close()
		list := []CompanyBreakdown{}
		for rows.Next() {
			var c CompanyBreakdown
			if err := rows.Scan(&c.CompanyID, &c.CompanyName, &c.TotalEvents, &c.TotalAmount, &c.SuccessEvents, &c.FailureEvents, &c.SuccessRate); err != nil {
				return nil, fmt.Errorf("scan company breakdown: %w", err)
			}
			list = append(list, c)
		}
		return list, rows.Err()
	})
}

// HourlyTrends buckets the last 24 hours of completions by hour, oldest first.
func (s *Store) HourlyTrends(ctx context.Context) ([]HourlyTrend, error) {
	return cached(ctx, s, "hourly-trends", func() ([]HourlyTrend, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT
				toStartOfHour(completed_at) AS hour,
				toInt64(count()) AS event_count,
				toFloat64(sum(amount)) AS total_amount,
				toInt64(countIf(outcome = 'SUCCESS')) AS success_count,
				toInt64(countIf(outcome = 'FAILURE')) AS failure_count
			FROM audit_completions
			WHERE completed_at >= (now() - INTERVAL 24 HOUR)
			GROUP BY hour
			ORDER BY hour ASC
		`)
		if err != nil {
			return nil, fmt.Errorf("hourly trends: %w", err)
		}
		defer rows.Close()
		list := []HourlyTrend{}
		for rows.Next() {
			var h HourlyTrend
			if err := rows.Scan(&h.Hour, &h.EventCount, &h.TotalAmount, &h.SuccessCount, &h.FailureCount); err != nil {
				return nil, fmt.Errorf("scan hourly trend: %w", err)
			}
			h.Hour = h.Hour.UTC()
			list = append(list, h)
		}
		return list, rows.Err()
	})
}

// RecentEvents returns the newest completions. Not cached.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]RecentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, audit_id, company_name, toFloat64(amount) AS amount, status, outcome, completed_at, processing_time_ms
		FROM audit_completions
		ORDER BY completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	out := []RecentEvent{}
	for rows.Next() {
		var e RecentEvent
		if err := rows.Scan(&e.EventID, &e.AuditID, &e.CompanyName, &e.Amount, &e.Status, &e.Outcome, &e.CompletedAt, &e.ProcessingTimeMs); err != nil {
			return nil, fmt.Errorf("scan recent event: %w", err)
		}
		e.CompletedAt = e.CompletedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent events: %w", err)
	}
	return out, nil
}

// Performance reports processing-time statistics over the last 24 hours.
func (s *Store) Performance(ctx context.Context) (PerformanceMetrics, error) {
	return cached(ctx, s, "performance", func() (PerformanceMetrics, error) {
		var p PerformanceMetrics
		err := s.db.QueryRowContext(ctx, `
			SELECT
				if(count() > 0, avg(processing_time_ms), 0) AS avg_processing_time,
				toFloat64(if(count() > 0, min(processing_time_ms), 0)) AS min_processing_time,
				toFloat64(if(count() > 0, max(processing_time_ms), 0)) AS max_processing_time,
				if(count() > 0, quantile(0.95)(processing_time_ms), 0) AS percentile_95,
				toInt64(count()) AS total_processed
			FROM audit_completions
			WHERE completed_at >= (now() - INTERVAL 24 HOUR)
		`).Scan(&p.AvgProcessingTime, &p.MinProcessingTime, &p.MaxProcessingTime, &p.Percentile95, &p.TotalProcessed)
		if err == sql.ErrNoRows {
			return p, nil
		}
		if err != nil {
			return PerformanceMetrics{}, fmt.Errorf("performance metrics: %w", err)
		}
		return p, nil
	})
}

// EventCount returns the number of recorded completions.
func (s *Store) EventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT toInt64(count()) FROM audit_completions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("event count: %w", err)
	}
	return n, nil
}

// cached loads key through the Redis cache, calling load on a miss.
func cached[T any](ctx context.Context, s *Store, key string, load func() (T, error)) (T, error) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return load()
	}
	var out T
	err := s.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   "paydash:analytics:" + key,
		Value: &out,
		TTL:   s.cacheTTL,
		Do: func(*cache.Item) (any, error) {
			return load()
		},
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
