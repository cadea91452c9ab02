// Package models provides data model definitions for the inspector sync core.
package models

import "time"

// MaxPhotosPerItem caps how many photos one checklist item may carry,
// counting local pendings and server-confirmed photos together.
const MaxPhotosPerItem = 5

// PendingPhoto is a locally captured image awaiting upload.
// BlobPath is owned exclusively by the device until upload completes;
// PreviewPath is ephemeral and released on deletion or after sync.
type PendingPhoto struct {
	ID           UUID      `db:"id" json:"id"`
	InspectionID UUID      `db:"inspection_id" json:"inspection_id"`
	ItemID       UUID      `db:"item_id" json:"item_id"`
	BlobPath     string    `db:"blob_path" json:"-"`
	PreviewPath  string    `db:"preview_path" json:"preview_path"`
	RemoteID     string    `db:"remote_id" json:"remote_id,omitempty"`
	RemoteURL    string    `db:"remote_url" json:"remote_url,omitempty"`
	CapturedAt   int64     `db:"captured_at" json:"captured_at"`
	UpdatedAt    int64     `db:"updated_at" json:"updated_at"`
	SyncState    SyncState `db:"sync_state" json:"sync_state"`
	Attempts     int       `db:"attempts" json:"attempts"`
	LastError    string    `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingPhoto.
func (PendingPhoto) TableName() string {
	return "pending_photos"
}

// CapturedAtTime returns CapturedAt as time.Time.
func (p *PendingPhoto) CapturedAtTime() time.Time {
	return time.Unix(p.CapturedAt, 0)
}
