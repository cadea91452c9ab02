// Package models provides data model definitions for the inspector sync core.
package models

import (
	"fmt"
	"time"
)

// FindingStatus is the assessment recorded for one checklist item.
type FindingStatus string

const (
	StatusPass           FindingStatus = "pass"
	StatusFail           FindingStatus = "fail"
	StatusNeedsAttention FindingStatus = "needs_attention"
	StatusUrgent         FindingStatus = "urgent"
	StatusNA             FindingStatus = "na"
)

// ParseFindingStatus validates and converts a raw status string.
func ParseFindingStatus(s string) (FindingStatus, error) {
	switch FindingStatus(s) {
	case StatusPass, StatusFail, StatusNeedsAttention, StatusUrgent, StatusNA:
		return FindingStatus(s), nil
	default:
		return "", fmt.Errorf("unknown finding status: %q", s)
	}
}

// SyncState tracks where a queued record is in its sync lifecycle.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// ParseSyncState validates and converts a raw sync state string.
func ParseSyncState(s string) (SyncState, error) {
	switch SyncState(s) {
	case SyncStatePending, SyncStateSyncing, SyncStateSynced, SyncStateFailed:
		return SyncState(s), nil
	default:
		return "", fmt.Errorf("unknown sync state: %q", s)
	}
}

// Active reports whether the record still counts toward progress and
// remains eligible for draining. Synced records are on their way out.
func (s SyncState) Active() bool {
	switch s {
	case SyncStatePending, SyncStateSyncing, SyncStateFailed:
		return true
	case SyncStateSynced:
		return false
	}
	return false
}

// Finding is the assessment payload for one checklist item.
type Finding struct {
	Status       FindingStatus `json:"status"`
	Notes        string        `json:"notes,omitempty"`
	NumericValue *float64      `json:"numeric_value,omitempty"`
	Response     string        `json:"response,omitempty"`
}

// PendingFinding is a locally queued assessment awaiting sync.
// At most one active PendingFinding exists per (InspectionID, ItemID);
// a new save for the same item supersedes the prior queued entry.
type PendingFinding struct {
	ID           UUID          `db:"id" json:"id"`
	InspectionID UUID          `db:"inspection_id" json:"inspection_id"`
	ItemID       UUID          `db:"item_id" json:"item_id"`
	Status       FindingStatus `db:"status" json:"status"`
	Notes        string        `db:"notes" json:"notes,omitempty"`
	NumericValue *float64      `db:"numeric_value" json:"numeric_value,omitempty"`
	Response     string        `db:"response" json:"response,omitempty"`
	QueuedAt     int64         `db:"queued_at" json:"queued_at"`
	UpdatedAt    int64         `db:"updated_at" json:"updated_at"`
	SyncState    SyncState     `db:"sync_state" json:"sync_state"`
	Attempts     int           `db:"attempts" json:"attempts"`
	LastError    string        `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingFinding.
func (PendingFinding) TableName() string {
	return "pending_findings"
}

// QueuedAtTime returns QueuedAt as time.Time.
func (f *PendingFinding) QueuedAtTime() time.Time {
	return time.Unix(f.QueuedAt, 0)
}

// Payload returns the finding content carried by this queue entry.
func (f *PendingFinding) Payload() Finding {
	return Finding{
		Status:       f.Status,
		Notes:        f.Notes,
		NumericValue: f.NumericValue,
		Response:     f.Response,
	}
}
