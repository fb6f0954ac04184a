// Package audit keeps the recent window of audit entries in Redis. It is the
// bounded secondary index behind the global "recent audit" view: every append
// is pushed onto one capped list, so reads are O(limit) regardless of how many
// objects exist. The durable, unbounded trail lives in the Postgres store.
package audit

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"paydash/internal/models"
)

// RedisTrail stores audit entries as hashes indexed by per-object lists and one global capped list.
type RedisTrail struct {
	client       *redis.Client
	entryPrefix  string
	objectPrefix string
	recentKey    string
	window       int64
}

// NewRedisTrail keeps at most window entries in the global list and per object.
func NewRedisTrail(client *redis.Client, window int) *RedisTrail {
	if window <= 0 {
		window = 1000
	}
	return &RedisTrail{
		client:       client,
		entryPrefix:  "paydash:audit:entry:",
		objectPrefix: "paydash:audit:object:",
		recentKey:    "paydash:audit:queue",
		window:       int64(window),
	}
}

func (a *RedisTrail) entryKey(auditID string) string {
	return a.entryPrefix + auditID
}

func (a *RedisTrail) objectKey(objectType, objectID string) string {
	return a.objectPrefix + objectType + ":" + objectID
}

// evictedTTL is how long an entry hash outlives its removal from the global list.
const evictedTTL = 24 * time.Hour

// Append writes the entry and trims both lists to the window. Entry hashes
// evicted from the global list expire after evictedTTL; entries still inside
// the window carry no TTL.
func (a *RedisTrail) Append(ctx context.Context, e models.AuditEntry) error {
	args := []any{
		e.AuditID,
		strconv.FormatInt(a.window-1, 10),
		strconv.FormatInt(a.window, 10),
		strconv.FormatInt(int64(evictedTTL/time.Second), 10),
		a.entryPrefix,
	}
	for k, v := range toHash(e) {
		args = append(args, k, v)
	}
	return appendScript.Run(ctx, a.client,
		[]string{a.entryKey(e.AuditID), a.objectKey(e.ObjectType, e.ObjectID), a.recentKey},
		args...,
	).Err()
}

// appendScript stores the hash, pushes the id onto both lists and expires the
// ids that fall off the global list.
var appendScript = redis.NewScript(`
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('LTRIM', KEYS[2], 0, ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
local evicted = redis.call('LRANGE', KEYS[3], ARGV[3], -1)
redis.call('LTRIM', KEYS[3], 0, ARGV[2])
for _, id in ipairs(evicted) do
  redis.call('EXPIRE', ARGV[5] .. id, ARGV[4])
end
return #evicted
`)

// ForObject returns the windowed entries of one object, newest first.
func (a *RedisTrail) ForObject(ctx context.Context, objectType, objectID string, limit int) ([]models.AuditEntry, error) {
	return a.load(ctx, a.objectKey(objectType, objectID), limit)
}

// Recent returns the newest entries across all objects.
func (a *RedisTrail) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return a.load(ctx, a.recentKey, limit)
}

func (a *RedisTrail) load(ctx context.Context, listKey string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		return []models.AuditEntry{}, nil
	}
	ids, err := a.client.LRange(ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditEntry, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := a.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, a.entryKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for _, c := range cmds {
		h := c.Val()
		if h["auditId"] == "" {
			continue
		}
		out = append(out, fromHash(h))
	}
	SortNewestFirst(out)
	return out, nil
}

// SortNewestFirst orders entries by timestamp descending.
func SortNewestFirst(entries []models.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func toHash(e models.AuditEntry) map[string]any {
	return map[string]any{
		"auditId":         e.AuditID,
		"objectId":        e.ObjectID,
		"objectType":      e.ObjectType,
		"parentId":        e.ParentID,
		"parentType":      e.ParentType,
		"action":          string(e.Action),
		"previousStatus":  string(e.PreviousStatus),
		"newStatus":       string(e.NewStatus),
		"previousOutcome": string(e.PreviousOutcome),
		"newOutcome":      string(e.NewOutcome),
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata":        e.Metadata,
	}
}

func fromHash(h map[string]string) models.AuditEntry {
	ts, _ := time.Parse(time.RFC3339Nano, h["timestamp"])
	return models.AuditEntry{
		AuditID:         h["auditId"],
		ObjectID:        h["objectId"],
		ObjectType:      h["objectType"],
		ParentID:        h["parentId"],
		ParentType:      h["parentType"],
		Action:          models.AuditAction(h["action"]),
		PreviousStatus:  models.Status(h["previousStatus"]),
		NewStatus:       models.Status(h["newStatus"]),
		PreviousOutcome: models.Outcome(h["previousOutcome"]),
		NewOutcome:      models.Outcome(h["newOutcome"]),
		Timestamp:       ts,
		Metadata:        h["metadata"],
	}
}
