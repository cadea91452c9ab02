package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/propcare/inspector/internal/db"
	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/remote"
	"github.com/propcare/inspector/internal/sync/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := db.NewMigrator(database.DB)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })
	return queue.New(repo, time.Second)
}

// fakeRemote records calls and fails the items listed in failItems.
type fakeRemote struct {
	mu        sync.Mutex
	findings  []models.UUID
	photos    []models.UUID
	failItems map[models.UUID]error
	block     chan struct{}
}

func (r *fakeRemote) UpsertFinding(ctx context.Context, inspectionID, itemID models.UUID, finding models.Finding) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failItems[itemID]; ok {
		return err
	}
	r.findings = append(r.findings, itemID)
	return nil
}

func (r *fakeRemote) UploadPhoto(ctx context.Context, inspectionID, itemID models.UUID, blob io.Reader, filename string) (*remote.PhotoUpload, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failItems[itemID]; ok {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, blob); err != nil {
		return nil, err
	}
	r.photos = append(r.photos, itemID)
	return &remote.PhotoUpload{ID: "srv-" + string(itemID), URL: "https://cdn.example.com/" + string(itemID)}, nil
}

func (r *fakeRemote) findingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.findings)
}

type fakeMonitor struct {
	mu    sync.Mutex
	calls []bool
}

func (m *fakeMonitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, online)
}

func (m *fakeMonitor) last() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return false, false
	}
	return m.calls[len(m.calls)-1], true
}

func enqueueFinding(t *testing.T, q *queue.Queue, itemID models.UUID) *models.PendingFinding {
	t.Helper()
	f, err := q.EnqueueFinding("insp-1", itemID, models.Finding{Status: models.StatusPass})
	if err != nil {
		t.Fatalf("enqueue finding %s: %v", itemID, err)
	}
	return f
}

func enqueuePhoto(t *testing.T, q *queue.Queue, itemID models.UUID) *models.PendingPhoto {
	t.Helper()

	blobPath := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(blobPath, []byte("not really a jpeg"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	p := &models.PendingPhoto{
		InspectionID: "insp-1",
		ItemID:       itemID,
		BlobPath:     blobPath,
	}
	if err := q.EnqueuePhoto(p, 0); err != nil {
		t.Fatalf("enqueue photo: %v", err)
	}
	return p
}

// TestSyncNow_PartialFailure verifies that one item failing does not stop
// the drain or hide the successes.
func TestSyncNow_PartialFailure(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{failItems: map[models.UUID]error{
		"item-2": apperrors.New(apperrors.ErrServer, "upsert rejected (status 500)"),
	}}
	e := NewEngine(q, r)

	enqueueFinding(t, q, "item-1")
	bad := enqueueFinding(t, q, "item-2")
	enqueueFinding(t, q, "item-3")

	result, err := e.SyncNow(context.Background(), "insp-1")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.FindingsSynced != 2 {
		t.Errorf("FindingsSynced = %d, want 2", result.FindingsSynced)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "item-2") {
		t.Errorf("error %q should name the failed item", result.Errors[0])
	}

	snap, err := q.ListPending("insp-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(snap.Findings) != 1 {
		t.Fatalf("active findings after drain = %d, want the failed one", len(snap.Findings))
	}
	if snap.Findings[0].ID != bad.ID {
		t.Errorf("retained finding = %s, want %s", snap.Findings[0].ID, bad.ID)
	}
	if snap.Findings[0].SyncState != models.SyncStateFailed {
		t.Errorf("retained state = %s, want failed", snap.Findings[0].SyncState)
	}
	if snap.Findings[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", snap.Findings[0].Attempts)
	}
}

// TestSyncNow_FindingsBeforePhotos verifies ordering within one pass.
func TestSyncNow_FindingsBeforePhotos(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{}
	e := NewEngine(q, r)

	enqueuePhoto(t, q, "item-1")
	enqueueFinding(t, q, "item-1")

	var order []string
	e.SetBroadcaster(&recordingBroadcaster{onProgress: func(item string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.photos) == 0 {
			order = append(order, "finding")
		} else {
			order = append(order, "photo")
		}
	}})

	result, err := e.SyncNow(context.Background(), "insp-1")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.FindingsSynced != 1 || result.PhotosUploaded != 1 {
		t.Fatalf("result = %+v, want one of each", result)
	}
	if len(order) != 2 || order[0] != "finding" || order[1] != "photo" {
		t.Errorf("order = %v, want findings first", order)
	}
}

// TestSyncNow_SharedInflight verifies that concurrent calls for the same
// inspection run a single drain and share its result.
func TestSyncNow_SharedInflight(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{block: make(chan struct{})}
	e := NewEngine(q, r)

	enqueueFinding(t, q, "item-1")
	enqueueFinding(t, q, "item-2")

	type outcome struct {
		result *SyncResult
		err    error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := e.SyncNow(context.Background(), "insp-1")
			results <- outcome{res, err}
		}()
	}

	// Let both callers reach the engine before releasing the remote.
	time.Sleep(50 * time.Millisecond)
	close(r.block)

	first := <-results
	second := <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("SyncNow errors: %v / %v", first.err, second.err)
	}
	if first.result != second.result {
		t.Errorf("overlapping calls should share one result")
	}
	if got := r.findingCount(); got != 2 {
		t.Errorf("remote saw %d finding calls, want 2 (no duplicate drain)", got)
	}
}

// TestSyncNow_SnapshotAtCall verifies that items queued mid-drain wait for
// the next pass.
func TestSyncNow_SnapshotAtCall(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{block: make(chan struct{})}
	e := NewEngine(q, r)

	enqueueFinding(t, q, "item-1")

	done := make(chan *SyncResult, 1)
	go func() {
		res, err := e.SyncNow(context.Background(), "insp-1")
		if err != nil {
			t.Errorf("SyncNow: %v", err)
		}
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	enqueueFinding(t, q, "item-2")
	close(r.block)

	result := <-done
	if result.FindingsSynced != 1 {
		t.Errorf("FindingsSynced = %d, want only the pre-drain item", result.FindingsSynced)
	}

	snap, err := q.ListPending("insp-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(snap.Findings) != 1 || snap.Findings[0].ItemID != "item-2" {
		t.Errorf("mid-drain item should remain queued, got %+v", snap.Findings)
	}
}

// TestSyncNow_SupersedingSaveSurvivesDrain verifies that re-saving the same
// item while its older content is in flight never loses the new content:
// the ack for the old push must leave the replacement queued for the next
// pass.
func TestSyncNow_SupersedingSaveSurvivesDrain(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{block: make(chan struct{})}
	e := NewEngine(q, r)

	enqueueFinding(t, q, "item-1")

	done := make(chan *SyncResult, 1)
	go func() {
		res, err := e.SyncNow(context.Background(), "insp-1")
		if err != nil {
			t.Errorf("SyncNow: %v", err)
		}
		done <- res
	}()

	// Re-save the same item while the old content sits in the remote call
	time.Sleep(50 * time.Millisecond)
	if _, err := q.EnqueueFinding("insp-1", "item-1", models.Finding{
		Status: models.StatusFail,
		Notes:  "cracked seal found on second look",
	}); err != nil {
		t.Fatalf("superseding enqueue: %v", err)
	}
	close(r.block)

	result := <-done
	if result.FindingsSynced != 1 {
		t.Errorf("FindingsSynced = %d, want the old content counted", result.FindingsSynced)
	}

	snap, err := q.ListPending("insp-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(snap.Findings) != 1 {
		t.Fatalf("active findings = %d, want the superseding save awaiting the next drain", len(snap.Findings))
	}
	got := snap.Findings[0]
	if got.ItemID != "item-1" || got.Status != models.StatusFail {
		t.Errorf("retained finding = %s/%s, want the superseding fail for item-1", got.ItemID, got.Status)
	}
	if got.SyncState != models.SyncStatePending {
		t.Errorf("sync state = %s, want pending", got.SyncState)
	}
}

// TestSyncNow_NetworkFailureFlagsOffline verifies that a transport error
// feeds back into the connectivity monitor.
func TestSyncNow_NetworkFailureFlagsOffline(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{failItems: map[models.UUID]error{
		"item-1": apperrors.New(apperrors.ErrNetwork, "connection refused"),
	}}
	e := NewEngine(q, r)
	mon := &fakeMonitor{}
	e.SetOnlineSink(mon)

	enqueueFinding(t, q, "item-1")

	result, err := e.SyncNow(context.Background(), "insp-1")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.FindingsSynced != 0 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v, want one failure", result)
	}
	online, ok := mon.last()
	if !ok {
		t.Fatal("monitor was never notified")
	}
	if online {
		t.Error("monitor should have been flagged offline")
	}
}

// TestSyncNow_PhotoUploadRecordsRemote verifies the uploaded photo keeps
// its server identity for later deletion.
func TestSyncNow_PhotoUploadRecordsRemote(t *testing.T) {
	q := newTestQueue(t)
	r := &fakeRemote{}
	e := NewEngine(q, r)

	p := enqueuePhoto(t, q, "item-1")

	result, err := e.SyncNow(context.Background(), "insp-1")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.PhotosUploaded != 1 {
		t.Fatalf("PhotosUploaded = %d, want 1", result.PhotosUploaded)
	}

	got, err := q.GetPhoto(p.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.SyncState != models.SyncStateSynced {
		t.Errorf("state = %s, want synced", got.SyncState)
	}
	if got.RemoteID != "srv-item-1" {
		t.Errorf("RemoteID = %q, want the server id", got.RemoteID)
	}
	if got.RemoteURL == "" {
		t.Error("RemoteURL should be recorded")
	}
}

// TestSyncNow_MissingBlobFailsItem verifies a lost blob file marks only
// that photo failed.
func TestSyncNow_MissingBlobFailsItem(t *testing.T) {
	q := newTestQueue(t)
	e := NewEngine(q, &fakeRemote{})

	p := enqueuePhoto(t, q, "item-1")
	if err := os.Remove(p.BlobPath); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	result, err := e.SyncNow(context.Background(), "insp-1")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.PhotosUploaded != 0 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v, want one failure and no uploads", result)
	}

	got, err := q.GetPhoto(p.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.SyncState != models.SyncStateFailed {
		t.Errorf("state = %s, want failed", got.SyncState)
	}
}

// recordingBroadcaster forwards progress events to a callback.
type recordingBroadcaster struct {
	onProgress func(item string)
}

func (b *recordingBroadcaster) SyncStarted(models.UUID, int)             {}
func (b *recordingBroadcaster) SyncCompleted(models.UUID, *SyncResult)  {}
func (b *recordingBroadcaster) SyncFailed(models.UUID, error)           {}
func (b *recordingBroadcaster) SyncProgress(id models.UUID, done, total int, item string) {
	if b.onProgress != nil {
		b.onProgress(item)
	}
}
