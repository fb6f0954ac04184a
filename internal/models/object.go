package models

import (
	"time"
)

// Object types.
const (
	TypeBatch = "batch"
	TypeItem  = "item"
)

// QueueObject represents one batch or item flowing through the pipeline.
type QueueObject struct {
	ObjectID   string    `json:"objectId"`
	ObjectType string    `json:"objectType"`
	ParentID   string    `json:"parentId,omitempty"`
	Status     Status    `json:"status"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Metadata   string    `json:"metadata"`
	Records    int       `json:"records"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// ObjectPatch is the subset of fields a transition may change.
type ObjectPatch struct {
	Status  Status
	Outcome Outcome
	Updated time.Time
}

// Apply returns a copy of o with the patch merged in. Zero fields are left untouched.
func (o QueueObject) Apply(p ObjectPatch) QueueObject {
	if p.Status != "" {
		o.Status = p.Status
	}
	if p.Outcome != OutcomeNone {
		o.Outcome = p.Outcome
	}
	if !p.Updated.IsZero() {
		o.Updated = p.Updated
	}
	return o
}

// QueueStats aggregates a scan of current objects.
type QueueStats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByOutcome    map[string]int `json:"byOutcome"`
	TotalRecords int            `json:"totalRecords"`
}
