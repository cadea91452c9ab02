// Package inspection derives execution state for a running inspection:
// checklist progress over the union of server-confirmed and locally queued
// findings, completion eligibility, and the per-inspection sync posture.
package inspection

import (
	"context"
	"sync"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/sync/queue"
)

// MinSummaryLength is the shortest acceptable completion summary.
const MinSummaryLength = 10

// Backend is the slice of the remote service this package needs.
type Backend interface {
	GetInspection(ctx context.Context, inspectionID models.UUID) (*models.InspectionSnapshot, error)
	CompleteInspection(ctx context.Context, inspectionID models.UUID, summary string) error
}

// Connectivity reports the monitor's current reading.
type Connectivity interface {
	IsOnline() bool
}

// CompletionPolicy decides whether an inspection may be completed right
// now. It returns a VALIDATION_ERROR naming the first unmet requirement,
// or nil when completion is allowed.
type CompletionPolicy func(online bool, summary string, progress models.Progress) error

// DefaultCompletionPolicy requires connectivity and a summary of at least
// ten characters. It deliberately does not require every checklist item to
// be answered; inspectors skip items all the time.
func DefaultCompletionPolicy(online bool, summary string, _ models.Progress) error {
	if len(summary) < MinSummaryLength {
		return apperrors.New(apperrors.ErrValidation, "summary needs at least 10 characters")
	}
	if !online {
		return apperrors.New(apperrors.ErrValidation, "must be online to complete an inspection")
	}
	return nil
}

// Tracker answers progress and completion questions for inspections. It
// caches the last server snapshot per inspection so progress stays
// answerable offline.
type Tracker struct {
	queue   *queue.Queue
	backend Backend
	online  Connectivity
	policy  CompletionPolicy

	mu        sync.Mutex
	snapshots map[models.UUID]*models.InspectionSnapshot
	postures  map[models.UUID]Posture
}

// NewTracker creates a Tracker with the default completion policy.
func NewTracker(q *queue.Queue, backend Backend, online Connectivity) *Tracker {
	return &Tracker{
		queue:     q,
		backend:   backend,
		online:    online,
		policy:    DefaultCompletionPolicy,
		snapshots: make(map[models.UUID]*models.InspectionSnapshot),
		postures:  make(map[models.UUID]Posture),
	}
}

// SetCompletionPolicy replaces the completion predicate.
func (t *Tracker) SetCompletionPolicy(p CompletionPolicy) {
	if p != nil {
		t.policy = p
	}
}

// Snapshot returns the server's view of the inspection, refreshing it when
// online and falling back to the cached copy offline. With neither
// available it returns NOT_FOUND.
func (t *Tracker) Snapshot(ctx context.Context, inspectionID models.UUID) (*models.InspectionSnapshot, error) {
	if t.online.IsOnline() {
		snap, err := t.backend.GetInspection(ctx, inspectionID)
		if err == nil {
			t.mu.Lock()
			t.snapshots[inspectionID] = snap
			t.mu.Unlock()
			return snap, nil
		}
		logging.Warn("Snapshot refresh failed, using cached copy", map[string]interface{}{
			"inspection_id": inspectionID.String(),
			"error":         err.Error(),
		})
	}

	t.mu.Lock()
	snap := t.snapshots[inspectionID]
	t.mu.Unlock()
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "no snapshot available for inspection")
	}
	return snap, nil
}

// Progress reports how many checklist items have an answer: items with a
// server-confirmed finding plus items with an active local pending,
// counted once each.
func (t *Tracker) Progress(ctx context.Context, inspectionID models.UUID) (models.Progress, error) {
	snap, err := t.Snapshot(ctx, inspectionID)
	if err != nil {
		return models.Progress{}, err
	}

	pending, err := t.queue.ListPending(inspectionID)
	if err != nil {
		return models.Progress{}, err
	}

	answered := make(map[models.UUID]struct{}, len(snap.Findings))
	for _, f := range snap.Findings {
		answered[f.ItemID] = struct{}{}
	}
	for _, f := range pending.Findings {
		answered[f.ItemID] = struct{}{}
	}

	return models.Progress{
		Completed: len(answered),
		Total:     len(snap.Checklist),
	}, nil
}

// ServerPhotoCount returns how many photos the server already holds for an
// item, from the freshest snapshot available. Callers feed this into the
// photo cap check.
func (t *Tracker) ServerPhotoCount(ctx context.Context, inspectionID, itemID models.UUID) (int, error) {
	snap, err := t.Snapshot(ctx, inspectionID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return snap.PhotoCountByItem()[itemID], nil
}

// Complete submits the inspection if the completion policy allows it. The
// queue does not have to be drained first; a completed inspection with
// pendings still syncs them afterwards.
func (t *Tracker) Complete(ctx context.Context, inspectionID models.UUID, summary string) error {
	progress, err := t.Progress(ctx, inspectionID)
	if err != nil {
		progress = models.Progress{}
	}

	if err := t.policy(t.online.IsOnline(), summary, progress); err != nil {
		return err
	}

	if err := t.backend.CompleteInspection(ctx, inspectionID, summary); err != nil {
		return err
	}

	logging.Info("Inspection completed", map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"completed":     progress.Completed,
		"total":         progress.Total,
	})
	return nil
}
