// Package tracker is the single write path for queue objects. Every creation
// and transition lands in the fast store, the durable store and the audit
// trail, and terminal transitions are reported to analytics.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paydash/internal/analytics"
	"paydash/internal/lifecycle"
	"paydash/internal/metadata"
	"paydash/internal/models"
	"paydash/internal/telemetry"
)

// FastStore holds current object state.
type FastStore interface {
	Put(ctx context.Context, obj models.QueueObject) error
	Update(ctx context.Context, objectID string, patch models.ObjectPatch) error
}

// DurableStore persists object state and the append-only audit log.
type DurableStore interface {
	UpsertObject(ctx context.Context, obj models.QueueObject) error
	AppendAudit(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error)
}

// AuditWindow keeps the bounded recent-audit view.
type AuditWindow interface {
	Append(ctx context.Context, e models.AuditEntry) error
}

// CompletionRecorder receives one fact per terminal transition.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, ev analytics.CompletionEvent) error
}

// Tracker fans writes out to the configured stores. Durable and Completions
// may be nil. Stores are written in sequence with no cross-store atomicity.
type Tracker struct {
	Fast        FastStore
	Durable     DurableStore
	Window      AuditWindow
	Completions CompletionRecorder
	Log         *logrus.Entry

	now func() time.Time
}

func New(fast FastStore, durable DurableStore, window AuditWindow, completions CompletionRecorder, log *logrus.Entry) *Tracker {
	return &Tracker{
		Fast:        fast,
		Durable:     durable,
		Window:      window,
		Completions: completions,
		Log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new object in RECEIVED and records its CREATED audit row.
func (t *Tracker) Create(ctx context.Context, obj models.QueueObject) (models.QueueObject, error) {
	if obj.Status == "" {
		obj.Status = models.StatusReceived
	}
	if obj.Status != models.StatusReceived {
		return obj, fmt.Errorf("create %s in %s: %w", obj.ObjectID, obj.Status, lifecycle.ErrIllegalTransition)
	}
	if obj.ObjectID == "" {
		obj.ObjectID = uuid.New().String()
	}
	if obj.ObjectType == "" {
		obj.ObjectType = models.TypeBatch
	}
	now := t.now()
	if obj.Created.IsZero() {
		obj.Created = now
	}
	if obj.Updated.IsZero() {
		obj.Updated = obj.Created
	}
	obj.Outcome = models.OutcomeNone

	if err := t.Fast.Put(ctx, obj); err != nil {
		telemetry.WriteErrors.WithLabelValues("fast").Inc()
		return obj, fmt.Errorf("put %s: %w", obj.ObjectID, err)
	}
	if t.Durable != nil {
		if err := t.Durable.UpsertObject(ctx, obj); err != nil {
			telemetry.WriteErrors.WithLabelValues("durable").Inc()
			return obj, err
		}
	}

	entry := models.AuditEntry{
		ObjectID:   obj.ObjectID,
		ObjectType: obj.ObjectType,
		ParentID:   obj.ParentID,
		Action:     models.ActionCreated,
		NewStatus:  obj.Status,
		Timestamp:  obj.Updated,
		Metadata:   obj.Metadata,
	}
	if obj.ParentID != "" {
		entry.ParentType = models.TypeBatch
	}
	if _, err := t.audit(ctx, entry); err != nil {
		return obj, err
	}
	telemetry.ObjectsCreated.WithLabelValues(obj.ObjectType).Inc()
	return obj, nil
}

// Transition moves obj to next, deriving the outcome from the target status.
// It returns the updated object. Illegal moves are rejected before any write.
func (t *Tracker) Transition(ctx context.Context, obj models.QueueObject, next models.Status) (models.QueueObject, error) {
	if !lifecycle.CanTransition(obj.Status, next) {
		if lifecycle.IsTerminal(obj.Status) {
			return obj, fmt.Errorf("%s is %s: %w", obj.ObjectID, obj.Status, lifecycle.ErrTerminal)
		}
		return obj, fmt.Errorf("%s %s -> %s: %w", obj.ObjectID, obj.Status, next, lifecycle.ErrIllegalTransition)
	}

	// Timestamps stay strictly increasing per object even under a coarse clock.
	now := t.now()
	if !now.After(obj.Updated) {
		now = obj.Updated.Add(time.Millisecond)
	}
	patch := models.ObjectPatch{Status: next, Outcome: lifecycle.OutcomeFor(next), Updated: now}
	updated := obj.Apply(patch)

	if err := t.Fast.Update(ctx, obj.ObjectID, patch); err != nil {
		telemetry.WriteErrors.WithLabelValues("fast").Inc()
		return obj, fmt.Errorf("update %s: %w", obj.ObjectID, err)
	}
	if t.Durable != nil {
		if err := t.Durable.UpsertObject(ctx, updated); err != nil {
			telemetry.WriteErrors.WithLabelValues("durable").Inc()
			return obj, err
		}
	}

	entry := models.AuditEntry{
		ObjectID:        obj.ObjectID,
		ObjectType:      obj.ObjectType,
		ParentID:        obj.ParentID,
		Action:          models.ActionUpdated,
		PreviousStatus:  obj.Status,
		NewStatus:       next,
		PreviousOutcome: obj.Outcome,
		NewOutcome:      updated.Outcome,
		Timestamp:       now,
	}
	if obj.ParentID != "" {
		entry.ParentType = models.TypeBatch
	}
	entry, err := t.audit(ctx, entry)
	if err != nil {
		return updated, err
	}
	telemetry.Transitions.WithLabelValues(string(obj.Status), string(next)).Inc()

	if lifecycle.IsTerminal(next) {
		t.recordCompletion(ctx, updated, entry.AuditID)
	}
	return updated, nil
}

// audit appends to the durable log, then mirrors the stored row into the
// window. Window failures are logged only.
func (t *Tracker) audit(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	if t.Durable != nil {
		saved, err := t.Durable.AppendAudit(ctx, e)
		if err != nil {
			telemetry.WriteErrors.WithLabelValues("audit").Inc()
			return e, err
		}
		e = saved
	}
	if e.AuditID == "" {
		e.AuditID = uuid.New().String()
	}
	if t.Window == nil {
		return e, nil
	}
	if err := t.Window.Append(ctx, e); err != nil {
		telemetry.WriteErrors.WithLabelValues("window").Inc()
		if t.Durable == nil {
			return e, fmt.Errorf("append audit window: %w", err)
		}
		t.logger().WithError(err).WithField("object_id", e.ObjectID).Warn("audit window append failed")
	}
	return e, nil
}

func (t *Tracker) recordCompletion(ctx context.Context, obj models.QueueObject, auditID string) {
	if t.Completions == nil || obj.ObjectType != models.TypeBatch {
		return
	}
	fields, err := metadata.Decode(obj.Metadata)
	if err != nil {
		t.logger().WithError(err).WithField("object_id", obj.ObjectID).Debug("completion without company fields")
	}
	ev := analytics.CompletionEvent{
		EventID:          uuid.New().String(),
		AuditID:          auditID,
		BatchID:          obj.ObjectID,
		CompanyID:        fields.CompanyID,
		CompanyName:      fields.Company,
		Amount:           fields.Amount,
		Status:           string(obj.Status),
		Outcome:          string(obj.Outcome),
		CompletedAt:      obj.Updated,
		ProcessingTimeMs: obj.Updated.Sub(obj.Created).Milliseconds(),
	}
	if err := t.Completions.RecordCompletion(ctx, ev); err != nil {
		telemetry.WriteErrors.WithLabelValues("analytics").Inc()
		t.logger().WithError(err).WithField("object_id", obj.ObjectID).Warn("record completion failed")
	}
}

func (t *Tracker) logger() *logrus.Entry {
	if t.Log != nil {
		return t.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
