package models

import (
	"time"
)

// AuditAction distinguishes the creation row from transitions.
type AuditAction string

const (
	ActionCreated AuditAction = "CREATED"
	ActionUpdated AuditAction = "UPDATED"
)

// AuditEntry is an immutable record of one creation or transition.
type AuditEntry struct {
	AuditID         string      `json:"auditId"`
	ObjectID        string      `json:"objectId"`
	ObjectType      string      `json:"objectType"`
	ParentID        string      `json:"parentId,omitempty"`
	ParentType      string      `json:"parentType,omitempty"`
	Action          AuditAction `json:"action"`
	PreviousStatus  Status      `json:"previousStatus,omitempty"`
	NewStatus       Status      `json:"newStatus"`
	PreviousOutcome Outcome     `json:"previousOutcome,omitempty"`
	NewOutcome      Outcome     `json:"newOutcome,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Metadata        string      `json:"metadata,omitempty"`
}

// ItemAuditStats summarises item-level audit rows under one batch.
type ItemAuditStats struct {
	ParentID    string         `json:"parentId"`
	TotalItems  int            `json:"totalItems"`
	ByStatus    map[string]int `json:"byStatus"`
	LastUpdated time.Time      `json:"lastUpdated"`
}
