package audit

import (
	"paydash/internal/models"
)

// ItemStats counts the items found in entries by the status of their newest row.
func ItemStats(parentID string, entries []models.AuditEntry) models.ItemAuditStats {
	stats := models.ItemAuditStats{
		ParentID: parentID,
		ByStatus: map[string]int{},
	}
	latest := make(map[string]models.AuditEntry, len(entries))
	for _, e := range entries {
		if cur, ok := latest[e.ObjectID]; !ok || e.Timestamp.After(cur.Timestamp) {
			latest[e.ObjectID] = e
		}
		if e.Timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = e.Timestamp
		}
	}
	for _, e := range latest {
		stats.ByStatus[string(e.NewStatus)]++
	}
	stats.TotalItems = len(latest)
	return stats
}
