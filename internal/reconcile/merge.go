// Package reconcile merges the durable baseline with the fast-store overlay
// into the single queue view served to clients.
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"paydash/internal/models"
	"paydash/internal/queue"
)

// Merge combines durable and overlay objects keyed by id. On conflict the
// overlay copy wins. The result is sorted by updated then created, newest
// first, and truncated to limit. Inputs are not modified.
func Merge(durable, overlay []models.QueueObject, limit int) []models.QueueObject {
	byID := make(map[string]models.QueueObject, len(durable)+len(overlay))
	for _, o := range durable {
		byID[o.ObjectID] = o
	}
	for _, o := range overlay {
		byID[o.ObjectID] = o
	}

	out := make([]models.QueueObject, 0, len(byID))
	for _, o := range byID {
		out = append(out, o)
	}
	queue.SortByRecency(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeStats counts objects by status and outcome and sums their records.
func ComputeStats(objs []models.QueueObject) models.QueueStats {
	stats := models.QueueStats{
		Total:     len(objs),
		ByStatus:  map[string]int{},
		ByOutcome: map[string]int{},
	}
	for _, o := range objs {
		stats.ByStatus[string(o.Status)]++
		if o.Outcome != models.OutcomeNone {
			stats.ByOutcome[string(o.Outcome)]++
		}
		stats.TotalRecords += o.Records
	}
	return stats
}

// ObjectSource lists current objects, most recently updated first.
type ObjectSource interface {
	List(ctx context.Context, limit int) ([]models.QueueObject, error)
}

// ObjectSourceFunc adapts a function to ObjectSource.
type ObjectSourceFunc func(ctx context.Context, limit int) ([]models.QueueObject, error)

func (f ObjectSourceFunc) List(ctx context.Context, limit int) ([]models.QueueObject, error) {
	return f(ctx, limit)
}

// Service builds the merged view. Durable is nil in cache mode.
type Service struct {
	durable      ObjectSource
	overlay      ObjectSource
	durableLimit int
	overlayLimit int
	statsLimit   int
	log          *logrus.Entry
}

// Limits bounds each read.
type Limits struct {
	Durable int
	Overlay int
	Stats   int
}

func NewService(durable, overlay ObjectSource, limits Limits, log *logrus.Entry) *Service {
	return &Service{
		durable:      durable,
		overlay:      overlay,
		durableLimit: limits.Durable,
		overlayLimit: limits.Overlay,
		statsLimit:   limits.Stats,
		log:          log,
	}
}

// View returns the reconciled queue. When limit <= 0 the durable read limit applies.
// In durable mode the view is bounded by the durable limit, in cache mode by the overlay limit.
// A failing overlay degrades to the durable baseline. A failing durable read is an error.
func (s *Service) View(ctx context.Context, limit int) ([]models.QueueObject, error) {
	if s.durable == nil {
		if limit <= 0 || limit > s.overlayLimit {
			limit = s.overlayLimit
		}
		objs, err := s.overlay.List(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("read fast store: %w", err)
		}
		return Merge(nil, objs, limit), nil
	}

	if limit <= 0 || limit > s.durableLimit {
		limit = s.durableLimit
	}
	base, err := s.durable.List(ctx, s.durableLimit)
	if err != nil {
		return nil, fmt.Errorf("read durable store: %w", err)
	}
	overlay, err := s.overlay.List(ctx, s.overlayLimit)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("overlay read failed, serving durable baseline")
		}
		overlay = nil
	}
	return Merge(base, overlay, limit), nil
}

// Stats aggregates a bounded scan of the authoritative store for the mode.
func (s *Service) Stats(ctx context.Context) (models.QueueStats, error) {
	src := s.durable
	if src == nil {
		src = s.overlay
	}
	objs, err := src.List(ctx, s.statsLimit)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("scan for stats: %w", err)
	}
	return ComputeStats(objs), nil
}
