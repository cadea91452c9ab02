// Package db provides CRUD repository operations for the queue database.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/uuid"
)

// Repository provides persistence for pending findings and photos.
// It caches prepared statements: the queue hot path runs the same handful
// of queries for every save and every drain.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine prepared this first, keep theirs
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// PendingFinding Operations
// =====================================================

const findingColumns = `id, inspection_id, item_id, status, notes, numeric_value,
	response, queued_at, updated_at, sync_state, attempts, last_error`

// UpsertPendingFinding writes a pending finding, superseding any prior entry
// for the same (inspection_id, item_id). A superseded entry keeps its row id
// but takes the new content and drops back to the pending state with a clean
// retry history. The populated row is written back into f.
func (r *Repository) UpsertPendingFinding(f *models.PendingFinding) error {
	if f.ID == "" {
		f.ID = models.UUID(uuid.New())
	}
	if f.QueuedAt == 0 {
		f.QueuedAt = time.Now().Unix()
	}
	f.UpdatedAt = f.QueuedAt
	f.SyncState = models.SyncStatePending
	f.Attempts = 0
	f.LastError = ""

	query := `
	INSERT INTO pending_findings (id, inspection_id, item_id, status, notes,
		numeric_value, response, queued_at, updated_at, sync_state, attempts, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
	ON CONFLICT(inspection_id, item_id) DO UPDATE SET
		status = excluded.status,
		notes = excluded.notes,
		numeric_value = excluded.numeric_value,
		response = excluded.response,
		queued_at = excluded.queued_at,
		updated_at = excluded.updated_at,
		sync_state = excluded.sync_state,
		attempts = 0,
		last_error = ''
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(f.ID, f.InspectionID, f.ItemID, f.Status, f.Notes,
		f.NumericValue, f.Response, f.QueuedAt, f.UpdatedAt, f.SyncState); err != nil {
		return err
	}

	// Read back: on conflict the existing row id wins
	stored, err := r.GetPendingFindingByItem(f.InspectionID, f.ItemID)
	if err != nil {
		return err
	}
	*f = *stored
	return nil
}

// GetPendingFinding retrieves a pending finding by id.
func (r *Repository) GetPendingFinding(id models.UUID) (*models.PendingFinding, error) {
	query := `SELECT ` + findingColumns + ` FROM pending_findings WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanFinding(stmt.QueryRow(id))
}

// GetPendingFindingByItem retrieves the pending finding for one checklist item.
func (r *Repository) GetPendingFindingByItem(inspectionID, itemID models.UUID) (*models.PendingFinding, error) {
	query := `SELECT ` + findingColumns + ` FROM pending_findings
		WHERE inspection_id = ? AND item_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanFinding(stmt.QueryRow(inspectionID, itemID))
}

// ListPendingFindings returns all queued findings for an inspection,
// oldest first.
func (r *Repository) ListPendingFindings(inspectionID models.UUID) ([]*models.PendingFinding, error) {
	query := `SELECT ` + findingColumns + ` FROM pending_findings
		WHERE inspection_id = ? ORDER BY queued_at, item_id`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []*models.PendingFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// SetFindingState transitions a finding's sync state. A failure reason is
// recorded and the attempt counter advanced only on the failed state.
func (r *Repository) SetFindingState(id models.UUID, state models.SyncState, reason string) error {
	var query string
	if state == models.SyncStateFailed {
		query = `UPDATE pending_findings
			SET sync_state = ?, last_error = ?, updated_at = ?, attempts = attempts + 1
			WHERE id = ?`
	} else {
		query = `UPDATE pending_findings
			SET sync_state = ?, last_error = ?, updated_at = ? WHERE id = ?`
	}
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(state, reason, time.Now().Unix(), id)
	return err
}

// MarkFindingSynced records server acknowledgment for a finding still held
// by the drain that pushed it. The state guard keeps a stale ack from
// clobbering a superseding save: an upsert made mid-drain resets the row to
// pending, the drain pushed the older content, and its ack must not flip the
// never-pushed replacement to synced. Only the engine writes the syncing
// state, so matching on it identifies the drain's own claim.
func (r *Repository) MarkFindingSynced(id models.UUID) error {
	stmt, err := r.PrepareStmt(`UPDATE pending_findings
		SET sync_state = ?, last_error = '', updated_at = ?
		WHERE id = ? AND sync_state = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(models.SyncStateSynced, time.Now().Unix(), id, models.SyncStateSyncing)
	return err
}

// DeletePendingFinding removes a queued finding.
func (r *Repository) DeletePendingFinding(id models.UUID) error {
	stmt, err := r.PrepareStmt(`DELETE FROM pending_findings WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(id)
	return err
}

// =====================================================
// PendingPhoto Operations
// =====================================================

const photoColumns = `id, inspection_id, item_id, blob_path, preview_path,
	remote_id, remote_url, captured_at, updated_at, sync_state, attempts, last_error`

// CreatePendingPhoto persists a newly captured photo.
func (r *Repository) CreatePendingPhoto(p *models.PendingPhoto) error {
	if p.ID == "" {
		p.ID = models.UUID(uuid.New())
	}
	if p.CapturedAt == 0 {
		p.CapturedAt = time.Now().Unix()
	}
	p.UpdatedAt = p.CapturedAt
	p.SyncState = models.SyncStatePending

	query := `
	INSERT INTO pending_photos (id, inspection_id, item_id, blob_path,
		preview_path, remote_id, remote_url, captured_at, updated_at, sync_state, attempts, last_error)
	VALUES (?, ?, ?, ?, ?, '', '', ?, ?, ?, 0, '')
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(p.ID, p.InspectionID, p.ItemID, p.BlobPath,
		p.PreviewPath, p.CapturedAt, p.UpdatedAt, p.SyncState)
	return err
}

// GetPendingPhoto retrieves a queued photo by id.
func (r *Repository) GetPendingPhoto(id models.UUID) (*models.PendingPhoto, error) {
	query := `SELECT ` + photoColumns + ` FROM pending_photos WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanPhoto(stmt.QueryRow(id))
}

// ListPendingPhotos returns all queued photos for an inspection, oldest first.
func (r *Repository) ListPendingPhotos(inspectionID models.UUID) ([]*models.PendingPhoto, error) {
	query := `SELECT ` + photoColumns + ` FROM pending_photos
		WHERE inspection_id = ? ORDER BY captured_at, id`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.PendingPhoto
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// CountPhotosForItem counts locally queued photos for one checklist item:
// the active subset still awaiting sync, and the total including synced
// rows awaiting sweep. The server counts a synced photo once it has
// acknowledged the upload, but a cached server count may predate that, so
// cap checks need both views.
func (r *Repository) CountPhotosForItem(inspectionID, itemID models.UUID) (active, total int, err error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN sync_state != 'synced' THEN 1 ELSE 0 END), 0),
		COUNT(*)
		FROM pending_photos WHERE inspection_id = ? AND item_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return 0, 0, err
	}
	err = stmt.QueryRow(inspectionID, itemID).Scan(&active, &total)
	return active, total, err
}

// SetPhotoState transitions a photo's sync state. A failure reason is
// recorded and the attempt counter advanced only on the failed state; use
// MarkPhotoSynced for the synced transition.
func (r *Repository) SetPhotoState(id models.UUID, state models.SyncState, reason string) error {
	var query string
	if state == models.SyncStateFailed {
		query = `UPDATE pending_photos
			SET sync_state = ?, last_error = ?, updated_at = ?, attempts = attempts + 1
			WHERE id = ?`
	} else {
		query = `UPDATE pending_photos
			SET sync_state = ?, last_error = ?, updated_at = ? WHERE id = ?`
	}
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(state, reason, time.Now().Unix(), id)
	return err
}

// MarkPhotoSynced records a confirmed upload together with the identifiers
// the server assigned to the stored object.
func (r *Repository) MarkPhotoSynced(id models.UUID, remoteID, remoteURL string) error {
	stmt, err := r.PrepareStmt(`UPDATE pending_photos
		SET sync_state = ?, remote_id = ?, remote_url = ?, last_error = '', updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(models.SyncStateSynced, remoteID, remoteURL, time.Now().Unix(), id)
	return err
}

// DeletePendingPhoto removes a queued photo record.
func (r *Repository) DeletePendingPhoto(id models.UUID) error {
	stmt, err := r.PrepareStmt(`DELETE FROM pending_photos WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(id)
	return err
}

// InspectionsWithWork returns the ids of inspections that still have
// unsynced entries of either kind.
func (r *Repository) InspectionsWithWork() ([]models.UUID, error) {
	rows, err := r.db.Query(`
		SELECT inspection_id FROM pending_findings WHERE sync_state != 'synced'
		UNION
		SELECT inspection_id FROM pending_photos WHERE sync_state != 'synced'
		ORDER BY inspection_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []models.UUID
	for rows.Next() {
		var id models.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =====================================================
// Sweep
// =====================================================

// SweepSynced removes rows that have been in the synced state since before
// the cutoff, and returns the blob paths of swept photos so the caller can
// release the files. The delay between sync and sweep is what lets the UI
// show a brief "just synced" indicator.
func (r *Repository) SweepSynced(cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(`SELECT blob_path, preview_path FROM pending_photos
		WHERE sync_state = 'synced' AND updated_at <= ?`, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	var paths []string
	for rows.Next() {
		var blob, preview string
		if err := rows.Scan(&blob, &preview); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, blob)
		if preview != "" && preview != blob {
			paths = append(paths, preview)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := r.db.Exec(`DELETE FROM pending_photos
		WHERE sync_state = 'synced' AND updated_at <= ?`, cutoff.Unix()); err != nil {
		return paths, err
	}
	if _, err := r.db.Exec(`DELETE FROM pending_findings
		WHERE sync_state = 'synced' AND updated_at <= ?`, cutoff.Unix()); err != nil {
		return paths, err
	}
	return paths, nil
}

// =====================================================
// Scan helpers
// =====================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFinding(row rowScanner) (*models.PendingFinding, error) {
	f := &models.PendingFinding{}
	var numeric sql.NullFloat64
	err := row.Scan(&f.ID, &f.InspectionID, &f.ItemID, &f.Status, &f.Notes,
		&numeric, &f.Response, &f.QueuedAt, &f.UpdatedAt, &f.SyncState,
		&f.Attempts, &f.LastError)
	if err != nil {
		return nil, err
	}
	if numeric.Valid {
		v := numeric.Float64
		f.NumericValue = &v
	}
	return f, nil
}

func scanPhoto(row rowScanner) (*models.PendingPhoto, error) {
	p := &models.PendingPhoto{}
	err := row.Scan(&p.ID, &p.InspectionID, &p.ItemID, &p.BlobPath, &p.PreviewPath,
		&p.RemoteID, &p.RemoteURL, &p.CapturedAt, &p.UpdatedAt, &p.SyncState,
		&p.Attempts, &p.LastError)
	if err != nil {
		return nil, err
	}
	return p, nil
}
