package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paydash/internal/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

type auditResponse struct {
	Success   bool                `json:"success"`
	Data      []models.AuditEntry `json:"data"`
	Count     int                 `json:"count"`
	Timestamp *time.Time          `json:"timestamp,omitempty"`
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	entries, err := s.deps.Audit.Recent(ctx, queryLimit(r, defaultAuditLimit, maxAuditLimit))
	if err != nil {
		s.writeError(w, r, "Failed to fetch audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Success: true, Data: nonNil(entries), Count: len(entries)})
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultAuditLimit, maxAuditLimit)
	s.stream(w, r, "audit", s.cfg.AuditStreamInterval, nil, func(ctx context.Context) any {
		entries, err := s.deps.Audit.Recent(ctx, limit)
		now := time.Now().UTC()
		if err != nil {
			s.log.WithError(err).Error("audit stream tick failed")
			return streamError{Success: false, Error: "Failed to fetch audit data", Timestamp: now}
		}
		return auditResponse{Success: true, Data: nonNil(entries), Count: len(entries), Timestamp: &now}
	})
}

func (s *Server) handleAuditObject(w http.ResponseWriter, r *http.Request) {
	objectType := strings.ToLower(chi.URLParam(r, "objectType"))
	objectID := chi.URLParam(r, "objectId")
	if objectType != models.TypeBatch && objectType != models.TypeItem {
		s.writeError(w, r, "", newAPIError(CodeInvalidInput, "objectType must be batch or item", nil))
		return
	}
	if objectID == "" {
		s.writeError(w, r, "", newAPIError(CodeInvalidInput, "objectId is required", nil))
		return
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()
	entries, err := s.deps.Audit.ForObject(ctx, objectType, objectID, queryLimit(r, defaultAuditLimit, maxAuditLimit))
	if err != nil {
		s.writeError(w, r, "Failed to fetch object audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       nonNil(entries),
		"count":      len(entries),
		"objectType": objectType,
		"objectId":   objectID,
	})
}

func (s *Server) handleAuditItems(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentId")
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	entries, err := s.deps.Audit.ByParent(ctx, parentID, queryLimit(r, defaultAuditLimit, maxAuditLimit))
	if err != nil {
		s.writeError(w, r, "Failed to fetch item audit trail", err)
		return
	}
	stats, err := s.deps.Audit.ItemStats(ctx, parentID)
	if err != nil {
		s.writeError(w, r, "Failed to fetch item audit stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"data":     nonNil(entries),
		"stats":    stats,
		"count":    len(entries),
		"parentId": parentID,
	})
}

func (s *Server) handleAuditItemStats(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentId")
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	stats, err := s.deps.Audit.ItemStats(ctx, parentID)
	if err != nil {
		s.writeError(w, r, "Failed to fetch item audit stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats, "parentId": parentID})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
