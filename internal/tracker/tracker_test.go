package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydash/internal/analytics"
	"paydash/internal/audit"
	"paydash/internal/lifecycle"
	"paydash/internal/models"
	"paydash/internal/queue"
)

type memDurable struct {
	mu      sync.Mutex
	objects map[string]models.QueueObject
	entries []models.AuditEntry
	failOn  string
}

func newMemDurable() *memDurable {
	return &memDurable{objects: map[string]models.QueueObject{}}
}

func (m *memDurable) UpsertObject(_ context.Context, obj models.QueueObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "upsert" {
		return errors.New("postgres unavailable")
	}
	m.objects[obj.ObjectID] = obj
	return nil
}

func (m *memDurable) AppendAudit(_ context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "audit" {
		return e, errors.New("postgres unavailable")
	}
	e.AuditID = "pg-" + e.ObjectID + "-" + string(e.NewStatus)
	m.entries = append(m.entries, e)
	return e, nil
}

type memCompletions struct {
	events []analytics.CompletionEvent
	err    error
}

func (m *memCompletions) RecordCompletion(_ context.Context, ev analytics.CompletionEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

type fixture struct {
	tracker     *Tracker
	queue       *queue.RedisQueue
	trail       *audit.RedisTrail
	durable     *memDurable
	completions *memCompletions
}

func newFixture(t *testing.T, durable bool) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := fixture{
		queue:       queue.NewRedisQueue(client),
		trail:       audit.NewRedisTrail(client, 100),
		completions: &memCompletions{},
	}
	var d DurableStore
	if durable {
		f.durable = newMemDurable()
		d = f.durable
	}
	f.tracker = New(f.queue, d, f.trail, f.completions, logrus.NewEntry(logrus.New()))

	clock := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	f.tracker.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func TestObjectLifecycleAuditTrail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obj, err := f.tracker.Create(ctx, models.QueueObject{ObjectID: "A", Metadata: `{"company":"Acme","amount":"12.50"}`, Records: 3})
	require.NoError(t, err)

	for _, next := range []models.Status{models.StatusValidating, models.StatusEnriching, models.StatusProcessing, models.StatusComplete} {
		obj, err = f.tracker.Transition(ctx, obj, next)
		require.NoError(t, err)
	}
	assert.Equal(t, models.StatusComplete, obj.Status)
	assert.Equal(t, models.OutcomeSuccess, obj.Outcome)

	stored, found, err := f.queue.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OutcomeSuccess, stored.Outcome)

	trail, err := f.trail.ForObject(ctx, models.TypeBatch, "A", 50)
	require.NoError(t, err)
	require.Len(t, trail, 5)

	// ForObject is newest first; walk it oldest first.
	statuses := make([]models.Status, 0, len(trail))
	for i := len(trail) - 1; i >= 0; i-- {
		statuses = append(statuses, trail[i].NewStatus)
		if i < len(trail)-1 {
			assert.True(t, trail[i].Timestamp.After(trail[i+1].Timestamp), "timestamps ascend")
		}
	}
	assert.NoError(t, lifecycle.ValidWalk(statuses))
	assert.Equal(t, models.ActionCreated, trail[4].Action)
	for _, e := range trail[:4] {
		assert.Equal(t, models.ActionUpdated, e.Action)
	}

	require.Len(t, f.completions.events, 1)
	ev := f.completions.events[0]
	assert.Equal(t, "Acme", ev.CompanyName)
	assert.Equal(t, "12.5", ev.Amount.String())
	assert.Equal(t, "SUCCESS", ev.Outcome)
	assert.Equal(t, int64(4000), ev.ProcessingTimeMs)
	assert.Equal(t, trail[0].AuditID, ev.AuditID)
}

func TestInvalidTransitionYieldsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	obj, err := f.tracker.Create(ctx, models.QueueObject{ObjectID: "B"})
	require.NoError(t, err)
	obj, err = f.tracker.Transition(ctx, obj, models.StatusValidating)
	require.NoError(t, err)
	obj, err = f.tracker.Transition(ctx, obj, models.StatusInvalid)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailure, obj.Outcome)

	assert.Equal(t, obj, f.durable.objects["B"])
	require.Len(t, f.durable.entries, 3)
	assert.Equal(t, models.OutcomeFailure, f.durable.entries[2].NewOutcome)

	recent, err := f.trail.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "pg-B-INVALID", recent[0].AuditID, "window mirrors the durable row")
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obj, err := f.tracker.Create(ctx, models.QueueObject{ObjectID: "C"})
	require.NoError(t, err)

	_, err = f.tracker.Transition(ctx, obj, models.StatusComplete)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	obj.Status = models.StatusComplete
	_, err = f.tracker.Transition(ctx, obj, models.StatusValidating)
	assert.ErrorIs(t, err, lifecycle.ErrTerminal)

	trail, err := f.trail.ForObject(ctx, models.TypeBatch, "C", 10)
	require.NoError(t, err)
	assert.Len(t, trail, 1, "rejected moves write nothing")
}

func TestCreateRejectsNonInitialStatus(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.tracker.Create(context.Background(), models.QueueObject{ObjectID: "D", Status: models.StatusProcessing})
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestDurableFailureSurfaces(t *testing.T) {
	f := newFixture(t, true)
	f.durable.failOn = "audit"
	_, err := f.tracker.Create(context.Background(), models.QueueObject{ObjectID: "E"})
	assert.Error(t, err)
}

func TestCompletionFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.completions.err = errors.New("clickhouse down")

	obj, err := f.tracker.Create(ctx, models.QueueObject{ObjectID: "F"})
	require.NoError(t, err)
	obj, err = f.tracker.Transition(ctx, obj, models.StatusValidating)
	require.NoError(t, err)
	_, err = f.tracker.Transition(ctx, obj, models.StatusInvalid)
	assert.NoError(t, err)
	assert.Len(t, f.completions.events, 1)
}

func TestItemsDoNotReportCompletions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	item, err := f.tracker.Create(ctx, models.QueueObject{ObjectID: "i-1", ObjectType: models.TypeItem, ParentID: "batch-1"})
	require.NoError(t, err)
	item, err = f.tracker.Transition(ctx, item, models.StatusValidating)
	require.NoError(t, err)
	_, err = f.tracker.Transition(ctx, item, models.StatusInvalid)
	require.NoError(t, err)
	assert.Empty(t, f.completions.events)

	trail, err := f.trail.ForObject(ctx, models.TypeItem, "i-1", 10)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "batch-1", trail[0].ParentID)
	assert.Equal(t, models.TypeBatch, trail[0].ParentType)
}
