// Package sync drains the offline queue against the backend.
package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/remote"
	"github.com/propcare/inspector/internal/sync/queue"
)

// Remote is the slice of the backend the engine needs. *remote.Client
// satisfies it; tests use a fake.
type Remote interface {
	UpsertFinding(ctx context.Context, inspectionID, itemID models.UUID, finding models.Finding) error
	UploadPhoto(ctx context.Context, inspectionID, itemID models.UUID, blob io.Reader, filename string) (*remote.PhotoUpload, error)
}

// SyncResult is the outcome of one drain: per-item successes and an ordered
// list of human-readable failures. A result with errors is a partial
// success, not an exception; callers decide how to present it.
type SyncResult struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	FindingsSynced int           `json:"findings_synced"`
	PhotosUploaded int           `json:"photos_uploaded"`
	Errors         []string      `json:"errors"`
}

// Broadcaster receives sync lifecycle events for the UI. Implementations
// must not block.
type Broadcaster interface {
	SyncStarted(inspectionID models.UUID, pending int)
	SyncProgress(inspectionID models.UUID, done, total int, currentItem string)
	SyncCompleted(inspectionID models.UUID, result *SyncResult)
	SyncFailed(inspectionID models.UUID, err error)
}

// OnlineSink lets the engine feed connectivity observations back to the
// monitor: a failed network call is stronger evidence than any platform
// reading.
type OnlineSink interface {
	SetOnline(online bool)
}

// inflight tracks one running drain so overlapping callers can share it.
type inflight struct {
	done   chan struct{}
	result *SyncResult
	err    error
}

// Engine reconciles the durable queue with the backend. At most one drain
// runs per inspection at a time; the engine only transitions queue entry
// states and removes entries, it never creates them.
type Engine struct {
	queue   *queue.Queue
	remote  Remote
	events  Broadcaster
	monitor OnlineSink

	mu      sync.Mutex
	running map[models.UUID]*inflight
}

// NewEngine creates an Engine. events and monitor may be nil.
func NewEngine(q *queue.Queue, r Remote) *Engine {
	return &Engine{
		queue:   q,
		remote:  r,
		running: make(map[models.UUID]*inflight),
	}
}

// SetBroadcaster sets the event sink for sync notifications.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.events = b
}

// SetOnlineSink sets the connectivity monitor fed by call outcomes.
func (e *Engine) SetOnlineSink(s OnlineSink) {
	e.monitor = s
}

// Syncing reports whether a drain is currently running for the inspection.
func (e *Engine) Syncing(inspectionID models.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[inspectionID]
	return ok
}

// SyncNow drains the inspection's queue. A call that overlaps a running
// drain of the same inspection does not start a second one: it waits for
// the in-flight drain and returns its result.
//
// The returned error is reserved for catastrophic conditions (the queue
// storage itself failing); per-item sync failures are reported inside the
// SyncResult.
func (e *Engine) SyncNow(ctx context.Context, inspectionID models.UUID) (*SyncResult, error) {
	e.mu.Lock()
	if inf, ok := e.running[inspectionID]; ok {
		e.mu.Unlock()
		select {
		case <-inf.done:
			return inf.result, inf.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inf := &inflight{done: make(chan struct{})}
	e.running[inspectionID] = inf
	e.mu.Unlock()

	result, err := e.drain(ctx, inspectionID)

	e.mu.Lock()
	inf.result = result
	inf.err = err
	delete(e.running, inspectionID)
	e.mu.Unlock()
	close(inf.done)

	return result, err
}

// drain runs one pass: snapshot the queue, push findings, then photos.
// Items enqueued while the pass runs are deliberately left for the next
// one; draining a moving target would never terminate.
func (e *Engine) drain(ctx context.Context, inspectionID models.UUID) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	snap, err := e.queue.ListPending(inspectionID)
	if err != nil {
		catastrophic := apperrors.Wrap(apperrors.ErrStorage, "queue unreadable", err)
		e.broadcastFailed(inspectionID, catastrophic)
		return nil, catastrophic
	}

	total := len(snap.Findings) + len(snap.Photos)
	e.broadcastStarted(inspectionID, total)
	logging.Info("Sync started", map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"findings":      len(snap.Findings),
		"photos":        len(snap.Photos),
	})

	done := 0

	// Findings go first: they are small, idempotent, and the photos
	// annotate them. A failed photo never rolls back a synced finding.
	for _, f := range snap.Findings {
		done++
		if err := e.syncFinding(ctx, f); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("finding for item %s: %s", f.ItemID, reasonOf(err)))
			continue
		}
		result.FindingsSynced++
		e.broadcastProgress(inspectionID, done, total, f.ItemID.String())
	}

	for _, p := range snap.Photos {
		done++
		if err := e.syncPhoto(ctx, p); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("photo for item %s: %s", p.ItemID, reasonOf(err)))
			continue
		}
		result.PhotosUploaded++
		e.broadcastProgress(inspectionID, done, total, p.ItemID.String())
	}

	if len(result.Errors) == 0 && e.monitor != nil && total > 0 {
		e.monitor.SetOnline(true)
	}

	e.broadcastCompleted(inspectionID, result)
	logging.Info("Sync finished", map[string]interface{}{
		"inspection_id":   inspectionID.String(),
		"findings_synced": result.FindingsSynced,
		"photos_uploaded": result.PhotosUploaded,
		"errors":          len(result.Errors),
	})

	return result, nil
}

// syncFinding pushes one queued finding and settles its queue state.
func (e *Engine) syncFinding(ctx context.Context, f *models.PendingFinding) error {
	if err := e.queue.MarkFindingSyncing(f.ID); err != nil {
		return err
	}

	if err := e.remote.UpsertFinding(ctx, f.InspectionID, f.ItemID, f.Payload()); err != nil {
		e.noteCallFailure(err)
		if markErr := e.queue.MarkFindingFailed(f.ID, reasonOf(err)); markErr != nil {
			logging.Error("Failed to record finding failure", markErr)
		}
		return err
	}

	return e.queue.MarkFindingSynced(f.ID)
}

// syncPhoto uploads one queued photo blob and settles its queue state.
func (e *Engine) syncPhoto(ctx context.Context, p *models.PendingPhoto) error {
	if err := e.queue.MarkPhotoSyncing(p.ID); err != nil {
		return err
	}

	blob, err := os.Open(p.BlobPath)
	if err != nil {
		err = apperrors.Wrap(apperrors.ErrStorage, "photo blob unreadable", err)
		if markErr := e.queue.MarkPhotoFailed(p.ID, reasonOf(err)); markErr != nil {
			logging.Error("Failed to record photo failure", markErr)
		}
		return err
	}
	defer blob.Close()

	up, err := e.remote.UploadPhoto(ctx, p.InspectionID, p.ItemID, blob, p.ID.String()+".jpg")
	if err != nil {
		e.noteCallFailure(err)
		if markErr := e.queue.MarkPhotoFailed(p.ID, reasonOf(err)); markErr != nil {
			logging.Error("Failed to record photo failure", markErr)
		}
		return err
	}

	return e.queue.MarkPhotoSynced(p.ID, up.ID, up.URL)
}

// noteCallFailure reports network-level failures to the connectivity
// monitor. The monitor's own reading may be optimistic; a refused call is
// ground truth.
func (e *Engine) noteCallFailure(err error) {
	if e.monitor != nil && apperrors.Is(err, apperrors.ErrNetwork) {
		e.monitor.SetOnline(false)
	}
}

// reasonOf renders an error for SyncResult.Errors and last_error fields.
func reasonOf(err error) string {
	if appErr, ok := err.(*apperrors.AppError); ok && appErr.Message != "" {
		if appErr.Err != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
		}
		return appErr.Message
	}
	return err.Error()
}

func (e *Engine) broadcastStarted(id models.UUID, pending int) {
	if e.events != nil {
		e.events.SyncStarted(id, pending)
	}
}

func (e *Engine) broadcastProgress(id models.UUID, done, total int, item string) {
	if e.events != nil {
		e.events.SyncProgress(id, done, total, item)
	}
}

func (e *Engine) broadcastCompleted(id models.UUID, result *SyncResult) {
	if e.events != nil {
		e.events.SyncCompleted(id, result)
	}
}

func (e *Engine) broadcastFailed(id models.UUID, err error) {
	if e.events != nil {
		e.events.SyncFailed(id, err)
	}
}
