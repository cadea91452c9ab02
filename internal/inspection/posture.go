package inspection

import (
	"github.com/propcare/inspector/internal/models"
	syncengine "github.com/propcare/inspector/internal/sync"
)

// Posture is where an inspection stands relative to the backend. It is
// never terminal: dirty-with-errors goes back to syncing on the next
// drain.
type Posture string

const (
	// PostureClean means nothing is queued locally.
	PostureClean Posture = "clean"
	// PostureDirty means local entries await the next drain.
	PostureDirty Posture = "dirty"
	// PostureSyncing means a drain is running right now.
	PostureSyncing Posture = "syncing"
	// PostureDirtyWithErrors means the last drain left failed entries behind.
	PostureDirtyWithErrors Posture = "dirty_with_errors"
)

// Posture returns the inspection's current sync posture. Unknown
// inspections are clean.
func (t *Tracker) Posture(inspectionID models.UUID) Posture {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.postures[inspectionID]; ok {
		return p
	}
	return PostureClean
}

// MarkDirty records that something was queued for the inspection. A drain
// already in flight stays syncing; the new entry waits for the next pass.
func (t *Tracker) MarkDirty(inspectionID models.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.postures[inspectionID] == PostureSyncing {
		return
	}
	t.postures[inspectionID] = PostureDirty
}

// SyncStarted implements the engine's Broadcaster: a drain has begun.
func (t *Tracker) SyncStarted(inspectionID models.UUID, pending int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postures[inspectionID] = PostureSyncing
}

// SyncProgress implements the engine's Broadcaster. Posture does not
// change mid-drain.
func (t *Tracker) SyncProgress(models.UUID, int, int, string) {}

// SyncCompleted implements the engine's Broadcaster: settle the posture
// from the drain result. Entries enqueued while the drain ran keep the
// inspection dirty even after a clean pass.
func (t *Tracker) SyncCompleted(inspectionID models.UUID, result *syncengine.SyncResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(result.Errors) > 0 {
		t.postures[inspectionID] = PostureDirtyWithErrors
		return
	}
	if stats, err := t.queue.Stats(inspectionID); err == nil && stats.Pending+stats.Failed > 0 {
		t.postures[inspectionID] = PostureDirty
		return
	}
	t.postures[inspectionID] = PostureClean
}

// SyncFailed implements the engine's Broadcaster: the drain could not run
// at all, so everything queued is still waiting.
func (t *Tracker) SyncFailed(inspectionID models.UUID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postures[inspectionID] = PostureDirtyWithErrors
}
