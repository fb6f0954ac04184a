package queue

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"paydash/internal/models"
)

// RedisQueue keeps the current state of queue objects in Redis: one hash per
// object plus a sorted set of object ids scored by their last update.
type RedisQueue struct {
	client       *redis.Client
	objectPrefix string
	updatedKey   string
}

// NewRedisQueue builds a queue store on an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:       client,
		objectPrefix: "paydash:object:",
		updatedKey:   "paydash:queue:updated",
	}
}

func (q *RedisQueue) objectKey(objectID string) string {
	return q.objectPrefix + objectID
}

// Put upserts the full object state. Transition legality is not checked here.
func (q *RedisQueue) Put(ctx context.Context, obj models.QueueObject) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.objectKey(obj.ObjectID), toHash(obj))
	pipe.ZAdd(ctx, q.updatedKey, redis.Z{Score: updatedScore(obj.Updated), Member: obj.ObjectID})
	_, err := pipe.Exec(ctx)
	return err
}

// List returns up to limit objects, most recently updated first, ties broken by
// created. Redis orders equal scores by member, so every member sharing the
// score at the page boundary is loaded and the page is cut after sorting.
func (q *RedisQueue) List(ctx context.Context, limit int) ([]models.QueueObject, error) {
	if limit <= 0 {
		return []models.QueueObject{}, nil
	}
	page, err := q.client.ZRevRangeWithScores(ctx, q.updatedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return []models.QueueObject{}, nil
	}
	boundary := strconv.FormatFloat(page[len(page)-1].Score, 'f', -1, 64)
	ids, err := q.client.ZRevRangeByScore(ctx, q.updatedKey, &redis.ZRangeBy{Min: boundary, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, q.objectKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]models.QueueObject, 0, len(ids))
	for _, c := range cmds {
		fields := c.Val()
		if fields["objectId"] == "" {
			continue
		}
		out = append(out, fromHash(fields))
	}
	SortByRecency(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update merge-patches status, outcome and updated. Unknown ids are ignored.
func (q *RedisQueue) Update(ctx context.Context, objectID string, patch models.ObjectPatch) error {
	updated := ""
	score := ""
	if !patch.Updated.IsZero() {
		updated = patch.Updated.UTC().Format(time.RFC3339Nano)
		score = strconv.FormatInt(patch.Updated.UnixMicro(), 10)
	}
	return patchScript.Run(ctx, q.client,
		[]string{q.objectKey(objectID), q.updatedKey},
		objectID, string(patch.Status), string(patch.Outcome), updated, score,
	).Err()
}

// Get returns one object, or found=false.
func (q *RedisQueue) Get(ctx context.Context, objectID string) (models.QueueObject, bool, error) {
	fields, err := q.client.HGetAll(ctx, q.objectKey(objectID)).Result()
	if err != nil {
		return models.QueueObject{}, false, err
	}
	if fields["objectId"] == "" {
		return models.QueueObject{}, false, nil
	}
	return fromHash(fields), true, nil
}

// Count returns the number of tracked objects.
func (q *RedisQueue) Count(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.updatedKey).Result()
}

// Clear removes every tracked object.
func (q *RedisQueue) Clear(ctx context.Context) error {
	ids, err := q.client.ZRange(ctx, q.updatedKey, 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.objectKey(id))
	}
	pipe.Del(ctx, q.updatedKey)
	_, err = pipe.Exec(ctx)
	return err
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// updatedScore is the zset score for t: microseconds, exact in a float64 for any
// realistic timestamp.
func updatedScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// SortByRecency orders objects by updated descending, then created descending.
func SortByRecency(objs []models.QueueObject) {
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].Updated.Equal(objs[j].Updated) {
			return objs[i].Updated.After(objs[j].Updated)
		}
		return objs[i].Created.After(objs[j].Created)
	})
}

func toHash(obj models.QueueObject) map[string]any {
	return map[string]any{
		"objectId":   obj.ObjectID,
		"objectType": obj.ObjectType,
		"parentId":   obj.ParentID,
		"status":     string(obj.Status),
		"outcome":    string(obj.Outcome),
		"metadata":   obj.Metadata,
		"records":    strconv.Itoa(obj.Records),
		"created":    obj.Created.UTC().Format(time.RFC3339Nano),
		"updated":    obj.Updated.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(h map[string]string) models.QueueObject {
	records, _ := strconv.Atoi(h["records"])
	created, _ := time.Parse(time.RFC3339Nano, h["created"])
	updated, _ := time.Parse(time.RFC3339Nano, h["updated"])
	objectType := h["objectType"]
	if objectType == "" {
		objectType = models.TypeBatch
	}
	return models.QueueObject{
		ObjectID:   h["objectId"],
		ObjectType: objectType,
		ParentID:   h["parentId"],
		Status:     models.Status(h["status"]),
		Outcome:    models.Outcome(h["outcome"]),
		Metadata:   h["metadata"],
		Records:    records,
		Created:    created,
		Updated:    updated,
	}
}

// patchScript applies a partial update only when the object hash exists.
var patchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[2] ~= '' then redis.call('HSET', KEYS[1], 'status', ARGV[2]) end
if ARGV[3] ~= '' then redis.call('HSET', KEYS[1], 'outcome', ARGV[3]) end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'updated', ARGV[4])
  redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
end
return 1
`)
