package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"paydash/internal/audit"
	"paydash/internal/models"
)

// maxParentScan bounds how many item rows feed per-batch statistics.
const maxParentScan = 10000

// Store is the durable layer: the queue_objects baseline and the append-only audit_entries log.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertObject writes the full current state of an object.
func (s *Store) UpsertObject(ctx context.Context, obj models.QueueObject) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_objects (object_id, object_type, parent_id, status, outcome, metadata, records, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (object_id) DO UPDATE
		SET status = EXCLUDED.status, outcome = EXCLUDED.outcome, metadata = EXCLUDED.metadata,
		    records = EXCLUDED.records, updated_at = EXCLUDED.updated_at
	`, obj.ObjectID, obj.ObjectType, emptyToNil(obj.ParentID), string(obj.Status), emptyToNil(string(obj.Outcome)),
		obj.Metadata, obj.Records, obj.Created, obj.Updated)
	if err != nil {
		return fmt.Errorf("upsert object %s: %w", obj.ObjectID, err)
	}
	return nil
}

// ListObjects returns up to limit objects, most recently updated first.
func (s *Store) ListObjects(ctx context.Context, limit int) ([]models.QueueObject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT object_id, object_type, parent_id, status, outcome, metadata, records, created_at, updated_at
		FROM queue_objects
		ORDER BY updated_at DESC, created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	out := []models.QueueObject{}
	for rows.Next() {
		var obj models.QueueObject
		var parentID, outcome pgtype.Text
		var status string
		if err := rows.Scan(&obj.ObjectID, &obj.ObjectType, &parentID, &status, &outcome, &obj.Metadata, &obj.Records, &obj.Created, &obj.Updated); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		obj.ParentID = textValue(parentID)
		obj.Status = models.Status(status)
		obj.Outcome = models.Outcome(textValue(outcome))
		obj.Created = obj.Created.UTC()
		obj.Updated = obj.Updated.UTC()
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return out, nil
}

// AppendAudit inserts one audit row. A missing id or timestamp is assigned here.
// The table rejects updates and deletes.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	if e.AuditID == "" {
		e.AuditID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (audit_id, object_id, object_type, parent_id, parent_type, action,
			previous_status, new_status, previous_outcome, new_outcome, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.AuditID, e.ObjectID, e.ObjectType, emptyToNil(e.ParentID), emptyToNil(e.ParentType), string(e.Action),
		emptyToNil(string(e.PreviousStatus)), string(e.NewStatus), emptyToNil(string(e.PreviousOutcome)),
		emptyToNil(string(e.NewOutcome)), e.Timestamp, emptyToNil(e.Metadata))
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

const auditColumns = `audit_id, object_id, object_type, parent_id, parent_type, action,
	previous_status, new_status, previous_outcome, new_outcome, ts, metadata`

// AuditByObject returns every entry for one subject, newest first. limit <= 0 means all.
func (s *Store) AuditByObject(ctx context.Context, objectType, objectID string, limit int) ([]models.AuditEntry, error) {
	return s.queryAudit(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE object_type = $1 AND object_id = $2
		ORDER BY ts DESC
		LIMIT $3
	`, objectType, objectID, limitOrAll(limit))
}

// AuditByParent returns item-level entries under one batch, newest first.
// It is served by the partial parent_id index, so cost grows with the number
// of matching rows rather than being constant.
func (s *Store) AuditByParent(ctx context.Context, parentID string, limit int) ([]models.AuditEntry, error) {
	return s.queryAudit(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE parent_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, parentID, limitOrAll(limit))
}

// RecentAudit returns the newest entries across all objects.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return s.queryAudit(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		ORDER BY ts DESC
		LIMIT $1
	`, limitOrAll(limit))
}

// ItemStatsByParent counts items under a batch by their latest status. Computed per call.
func (s *Store) ItemStatsByParent(ctx context.Context, parentID string) (models.ItemAuditStats, error) {
	entries, err := s.AuditByParent(ctx, parentID, maxParentScan)
	if err != nil {
		return models.ItemAuditStats{}, err
	}
	return audit.ItemStats(parentID, entries), nil
}

func (s *Store) queryAudit(ctx context.Context, sql string, args ...any) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []models.AuditEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func scanAudit(row pgx.Row) (models.AuditEntry, error) {
	var e models.AuditEntry
	var parentID, parentType, prevStatus, prevOutcome, newOutcome, metadata pgtype.Text
	var action, newStatus string
	if err := row.Scan(&e.AuditID, &e.ObjectID, &e.ObjectType, &parentID, &parentType, &action,
		&prevStatus, &newStatus, &prevOutcome, &newOutcome, &e.Timestamp, &metadata); err != nil {
		return models.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.ParentID = textValue(parentID)
	e.ParentType = textValue(parentType)
	e.Action = models.AuditAction(action)
	e.PreviousStatus = models.Status(textValue(prevStatus))
	e.NewStatus = models.Status(newStatus)
	e.PreviousOutcome = models.Outcome(textValue(prevOutcome))
	e.NewOutcome = models.Outcome(textValue(newOutcome))
	e.Metadata = textValue(metadata)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// limitOrAll maps non-positive limits to NULL, which Postgres treats as LIMIT ALL.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func textValue(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
