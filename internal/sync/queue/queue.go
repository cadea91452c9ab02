// Package queue provides the durable on-device queue for offline capture.
// Every mutation is written through to SQLite before the call returns, so a
// crash immediately after a save never drops inspector input.
package queue

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/propcare/inspector/internal/db"
	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
)

// DefaultGraceInterval is how long synced rows linger before the sweeper
// removes them. The UI uses the window to show a "just synced" badge.
const DefaultGraceInterval = 30 * time.Second

// Snapshot is the set of active queue entries for one inspection at one
// point in time. Entries enqueued after the snapshot are not in it.
type Snapshot struct {
	Findings []*models.PendingFinding
	Photos   []*models.PendingPhoto
}

// Stats summarizes an inspection's queue for the pending/failed indicator.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced"`
}

// Total returns the number of entries still occupying the queue.
func (s Stats) Total() int {
	return s.Pending + s.Syncing + s.Failed + s.Synced
}

// Queue is the single writer for pending findings and photos. All mutations
// are serialized through one mutex; the sync engine only transitions states
// and removes entries, never fabricates new ones.
type Queue struct {
	repo  *db.Repository
	mu    sync.Mutex
	grace time.Duration
}

// New creates a Queue over the repository. A non-positive grace falls back
// to DefaultGraceInterval.
func New(repo *db.Repository, grace time.Duration) *Queue {
	if grace <= 0 {
		grace = DefaultGraceInterval
	}
	return &Queue{
		repo:  repo,
		grace: grace,
	}
}

// EnqueueFinding queues an assessment for one checklist item, superseding
// any prior queued entry for the same item (last-write-wins). The write is
// durable before return; there is no network wait.
func (q *Queue) EnqueueFinding(inspectionID, itemID models.UUID, finding models.Finding) (*models.PendingFinding, error) {
	if _, err := models.ParseFindingStatus(string(finding.Status)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "finding status", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pf := &models.PendingFinding{
		InspectionID: inspectionID,
		ItemID:       itemID,
		Status:       finding.Status,
		Notes:        finding.Notes,
		NumericValue: finding.NumericValue,
		Response:     finding.Response,
	}
	if err := q.repo.UpsertPendingFinding(pf); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to queue finding", err)
	}

	logging.Debug("Queued finding", map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"item_id":       itemID.String(),
		"status":        string(pf.Status),
	})

	return pf, nil
}

// EnqueuePhoto queues a captured photo. serverPhotoCount is the number of
// photos the server already holds for the item (from the last known
// snapshot); the cap covers local and synced photos combined. On a cap
// violation nothing is persisted.
func (q *Queue) EnqueuePhoto(p *models.PendingPhoto, serverPhotoCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	active, total, err := q.repo.CountPhotosForItem(p.InspectionID, p.ItemID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to count photos", err)
	}
	// A synced row awaiting sweep is counted by the server, but the cached
	// server count may predate the drain that uploaded it. Take whichever
	// view claims more occupancy.
	occupied := active + serverPhotoCount
	if total > occupied {
		occupied = total
	}
	if occupied >= models.MaxPhotosPerItem {
		return apperrors.New(apperrors.ErrCapacity, "item already has the maximum of 5 photos")
	}

	if err := q.repo.CreatePendingPhoto(p); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to queue photo", err)
	}

	logging.Debug("Queued photo", map[string]interface{}{
		"inspection_id": p.InspectionID.String(),
		"item_id":       p.ItemID.String(),
		"photo_id":      p.ID.String(),
	})

	return nil
}

// ListPending returns the active (not yet swept-synced) entries for an
// inspection, oldest first within each kind.
func (q *Queue) ListPending(inspectionID models.UUID) (*Snapshot, error) {
	findings, err := q.repo.ListPendingFindings(inspectionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending findings", err)
	}
	photos, err := q.repo.ListPendingPhotos(inspectionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending photos", err)
	}

	snap := &Snapshot{}
	for _, f := range findings {
		if f.SyncState.Active() {
			snap.Findings = append(snap.Findings, f)
		}
	}
	for _, p := range photos {
		if p.SyncState.Active() {
			snap.Photos = append(snap.Photos, p)
		}
	}
	return snap, nil
}

// GetPhoto returns one queued photo, or nil if it no longer exists.
func (q *Queue) GetPhoto(id models.UUID) (*models.PendingPhoto, error) {
	p, err := q.repo.GetPendingPhoto(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read photo", err)
	}
	return p, nil
}

// MarkFindingSyncing flags a finding as claimed by an in-progress drain.
func (q *Queue) MarkFindingSyncing(id models.UUID) error {
	return q.setFindingState(id, models.SyncStateSyncing, "")
}

// MarkFindingSynced records server acknowledgment for a finding the drain
// previously claimed with MarkFindingSyncing. If a superseding save reset
// the entry to pending while the older content was in flight, the ack is a
// no-op and the new content stays queued for the next drain. Calling it
// twice, or after the sweeper removed the row, is likewise a no-op.
func (q *Queue) MarkFindingSynced(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.MarkFindingSynced(id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to mark finding synced", err)
	}
	return nil
}

// MarkFindingFailed records a per-item sync failure. The entry stays in the
// queue and is retried on the next drain.
func (q *Queue) MarkFindingFailed(id models.UUID, reason string) error {
	return q.setFindingState(id, models.SyncStateFailed, reason)
}

// MarkPhotoSyncing flags a photo as claimed by an in-progress drain.
func (q *Queue) MarkPhotoSyncing(id models.UUID) error {
	return q.setPhotoState(id, models.SyncStateSyncing, "")
}

// MarkPhotoSynced records a confirmed upload with the server-assigned
// identifiers. Idempotent.
func (q *Queue) MarkPhotoSynced(id models.UUID, remoteID, remoteURL string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.MarkPhotoSynced(id, remoteID, remoteURL); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to mark photo synced", err)
	}
	return nil
}

// MarkPhotoFailed records a per-item upload failure, retried on next drain.
func (q *Queue) MarkPhotoFailed(id models.UUID, reason string) error {
	return q.setPhotoState(id, models.SyncStateFailed, reason)
}

func (q *Queue) setFindingState(id models.UUID, state models.SyncState, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.SetFindingState(id, state, reason); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update finding state", err)
	}
	return nil
}

func (q *Queue) setPhotoState(id models.UUID, state models.SyncState, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.SetPhotoState(id, state, reason); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update photo state", err)
	}
	return nil
}

// RemoveFinding deletes a queued finding outright.
func (q *Queue) RemoveFinding(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.DeletePendingFinding(id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove finding", err)
	}
	return nil
}

// RemovePhoto deletes a queued photo record and returns it so the caller
// can release the blob and preview files. Returns nil if already gone.
func (q *Queue) RemovePhoto(id models.UUID) (*models.PendingPhoto, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, err := q.repo.GetPendingPhoto(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read photo", err)
	}
	if err := q.repo.DeletePendingPhoto(id); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to remove photo", err)
	}
	return p, nil
}

// Sweep removes rows that have sat in the synced state longer than the
// grace interval. It returns local file paths released by the sweep.
func (q *Queue) Sweep() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	paths, err := q.repo.SweepSynced(time.Now().Add(-q.grace))
	if err != nil {
		return paths, apperrors.Wrap(apperrors.ErrStorage, "failed to sweep synced rows", err)
	}
	if len(paths) > 0 {
		logging.Debug("Swept synced queue rows", map[string]interface{}{
			"released_files": len(paths),
		})
	}
	return paths, nil
}

// PendingInspections lists inspections that still hold unsynced entries.
// Background drains use this to find their work after a restart.
func (q *Queue) PendingInspections() ([]models.UUID, error) {
	ids, err := q.repo.InspectionsWithWork()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list inspections with work", err)
	}
	return ids, nil
}

// Stats counts an inspection's queue entries by sync state.
func (q *Queue) Stats(inspectionID models.UUID) (Stats, error) {
	var stats Stats

	findings, err := q.repo.ListPendingFindings(inspectionID)
	if err != nil {
		return stats, apperrors.Wrap(apperrors.ErrStorage, "failed to list findings", err)
	}
	photos, err := q.repo.ListPendingPhotos(inspectionID)
	if err != nil {
		return stats, apperrors.Wrap(apperrors.ErrStorage, "failed to list photos", err)
	}

	states := make([]models.SyncState, 0, len(findings)+len(photos))
	for _, f := range findings {
		states = append(states, f.SyncState)
	}
	for _, p := range photos {
		states = append(states, p.SyncState)
	}

	for _, s := range states {
		switch s {
		case models.SyncStatePending:
			stats.Pending++
		case models.SyncStateSyncing:
			stats.Syncing++
		case models.SyncStateFailed:
			stats.Failed++
		case models.SyncStateSynced:
			stats.Synced++
		}
	}
	return stats, nil
}
