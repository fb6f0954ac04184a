package api

import (
	"net/http"

	"paydash/internal/lifecycle"
	"paydash/internal/models"
)

type statusInfo struct {
	Status   models.Status   `json:"status"`
	Display  models.Display  `json:"display"`
	Terminal bool            `json:"terminal"`
	Next     []models.Status `json:"next"`
	Outcome  models.Outcome  `json:"outcome,omitempty"`
}

type outcomeInfo struct {
	Outcome models.Outcome `json:"outcome"`
	Display models.Display `json:"display"`
}

// handleLifecycle describes the state machine so the dashboard renders badges without hardcoding it.
func (s *Server) handleLifecycle(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]statusInfo, 0, len(models.Statuses))
	for _, st := range models.Statuses {
		statuses = append(statuses, statusInfo{
			Status:   st,
			Display:  st.Display(),
			Terminal: lifecycle.IsTerminal(st),
			Next:     lifecycle.NextStatuses(st),
			Outcome:  lifecycle.OutcomeFor(st),
		})
	}
	outcomes := []outcomeInfo{
		{Outcome: models.OutcomeSuccess, Display: models.OutcomeSuccess.Display()},
		{Outcome: models.OutcomeFailure, Display: models.OutcomeFailure.Display()},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"statuses":    statuses,
			"transitions": lifecycle.Table(),
			"outcomes":    outcomes,
		},
	})
}
