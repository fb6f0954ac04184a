package api

import (
	"context"
	"net/http"
	"time"

	"paydash/internal/models"
)

const defaultQueueLimit = 100

type queueResponse struct {
	Success   bool                 `json:"success"`
	Data      []models.QueueObject `json:"data"`
	Count     int                  `json:"count"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
}

type statsResponse struct {
	Success   bool              `json:"success"`
	Data      models.QueueStats `json:"data"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	objs, err := s.deps.Queue.View(ctx, queryLimit(r, defaultQueueLimit, s.cfg.DurableFetchLimit))
	if err != nil {
		s.writeError(w, r, "Failed to fetch queue objects", err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Success: true, Data: objs, Count: len(objs)})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	stats, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		s.writeError(w, r, "Failed to fetch queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Data: stats})
}

// handleQueueClear only works against the fast store alone. With a durable
// baseline the cleared objects would reappear on the next merge.
func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Durable() || s.deps.Clearer == nil {
		s.writeError(w, r, "", newAPIError(CodeMethodNotAllowed, "Clearing the queue is disabled while the durable store is enabled", nil))
		return
	}
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	if err := s.deps.Clearer.Clear(ctx); err != nil {
		s.writeError(w, r, "Failed to clear queue", err)
		return
	}
	s.log.Warn("queue cleared via API")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Queue cleared successfully"})
}

func (s *Server) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultQueueLimit, s.cfg.DurableFetchLimit)
	s.stream(w, r, "queue", s.cfg.QueueStreamInterval, nil, func(ctx context.Context) any {
		objs, err := s.deps.Queue.View(ctx, limit)
		now := time.Now().UTC()
		if err != nil {
			s.log.WithError(err).Error("queue stream tick failed")
			return streamError{Success: false, Error: "Failed to fetch queue data", Timestamp: now}
		}
		return queueResponse{Success: true, Data: objs, Count: len(objs), Timestamp: &now}
	})
}

func (s *Server) handleQueueStatsStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, "queue-stats", s.cfg.StatsStreamInterval, nil, func(ctx context.Context) any {
		stats, err := s.deps.Queue.Stats(ctx)
		now := time.Now().UTC()
		if err != nil {
			s.log.WithError(err).Error("stats stream tick failed")
			return streamError{Success: false, Error: "Failed to fetch queue stats", Timestamp: now}
		}
		return statsResponse{Success: true, Data: stats, Timestamp: &now}
	})
}
