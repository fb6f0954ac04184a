package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"paydash/internal/models"
)

// DurableLog is the query surface of the append-only audit table.
type DurableLog interface {
	AuditByObject(ctx context.Context, objectType, objectID string, limit int) ([]models.AuditEntry, error)
	AuditByParent(ctx context.Context, parentID string, limit int) ([]models.AuditEntry, error)
	RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
	ItemStatsByParent(ctx context.Context, parentID string) (models.ItemAuditStats, error)
}

// Reader answers audit queries from the durable log when one is configured
// and from the Redis window otherwise. The global recent view always reads
// the window first since it is the bounded index built for that query.
type Reader struct {
	durable DurableLog
	window  *RedisTrail
	log     *logrus.Entry
}

func NewReader(durable DurableLog, window *RedisTrail, log *logrus.Entry) *Reader {
	return &Reader{durable: durable, window: window, log: log}
}

func (r *Reader) ForObject(ctx context.Context, objectType, objectID string, limit int) ([]models.AuditEntry, error) {
	if r.durable != nil {
		return r.durable.AuditByObject(ctx, objectType, objectID, limit)
	}
	return r.window.ForObject(ctx, objectType, objectID, limit)
}

// Recent falls back to the durable log only when the window read fails.
func (r *Reader) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	entries, err := r.window.Recent(ctx, limit)
	if err == nil || r.durable == nil {
		return entries, err
	}
	r.log.WithError(err).Warn("audit window unavailable, reading durable log")
	return r.durable.RecentAudit(ctx, limit)
}

// ByParent without a durable log only sees items still inside the window.
func (r *Reader) ByParent(ctx context.Context, parentID string, limit int) ([]models.AuditEntry, error) {
	if r.durable != nil {
		return r.durable.AuditByParent(ctx, parentID, limit)
	}
	recent, err := r.window.Recent(ctx, int(r.window.window))
	if err != nil {
		return nil, err
	}
	out := filterParent(recent, parentID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Reader) ItemStats(ctx context.Context, parentID string) (models.ItemAuditStats, error) {
	if r.durable != nil {
		return r.durable.ItemStatsByParent(ctx, parentID)
	}
	entries, err := r.ByParent(ctx, parentID, 0)
	if err != nil {
		return models.ItemAuditStats{}, err
	}
	return ItemStats(parentID, entries), nil
}

func filterParent(entries []models.AuditEntry, parentID string) []models.AuditEntry {
	out := []models.AuditEntry{}
	for _, e := range entries {
		if e.ParentID == parentID && e.ObjectType == models.TypeItem {
			out = append(out, e)
		}
	}
	return out
}
