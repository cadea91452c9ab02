// Package handlers tests for the local inspection REST API.
// These tests verify HTTP request handling, status codes, and responses.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propcare/inspector/internal/db"
	"github.com/propcare/inspector/internal/inspection"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/remote"
	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
)

type fakeRemote struct {
	upserts int
	fail    error
}

func (r *fakeRemote) UpsertFinding(ctx context.Context, inspectionID, itemID models.UUID, finding models.Finding) error {
	if r.fail != nil {
		return r.fail
	}
	r.upserts++
	return nil
}

func (r *fakeRemote) UploadPhoto(ctx context.Context, inspectionID, itemID models.UUID, blob io.Reader, filename string) (*remote.PhotoUpload, error) {
	return &remote.PhotoUpload{ID: "srv-1", URL: "https://cdn.example.com/1"}, nil
}

type fakeBackend struct {
	snapshot *models.InspectionSnapshot
}

func (b *fakeBackend) GetInspection(ctx context.Context, inspectionID models.UUID) (*models.InspectionSnapshot, error) {
	return b.snapshot, nil
}

func (b *fakeBackend) CompleteInspection(ctx context.Context, inspectionID models.UUID, summary string) error {
	return nil
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

func newTestMux(t *testing.T, r *fakeRemote) (*http.ServeMux, *queue.Queue) {
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

	q := queue.New(repo, time.Second)
	engine := syncengine.NewEngine(q, r)
	snapshot := &models.InspectionSnapshot{
		ID:     "insp-1",
		Status: "in_progress",
		Checklist: []models.ChecklistItem{
			{ID: "item-1", Prompt: "roof condition"},
			{ID: "item-2", Prompt: "gutter condition"},
		},
	}
	tracker := inspection.NewTracker(q, &fakeBackend{snapshot: snapshot}, alwaysOnline{})

	mux := http.NewServeMux()
	NewInspectionHandler(q, engine, tracker, nil).Register(mux)
	return mux, q
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSaveFinding(t *testing.T) {
	mux, q := newTestMux(t, &fakeRemote{})

	t.Run("valid save is queued", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPut, "/api/inspections/insp-1/items/item-1/finding",
			map[string]interface{}{"status": "fail", "notes": "shingles loose"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}

		snap, err := q.ListPending("insp-1")
		if err != nil {
			t.Fatalf("ListPending: %v", err)
		}
		if len(snap.Findings) != 1 || snap.Findings[0].Notes != "shingles loose" {
			t.Errorf("queued findings = %+v", snap.Findings)
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPut, "/api/inspections/insp-1/items/item-1/finding",
			map[string]interface{}{"status": "meh"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("garbage body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut,
			"/api/inspections/insp-1/items/item-1/finding", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSyncNowEndpoint(t *testing.T) {
	r := &fakeRemote{}
	mux, _ := newTestMux(t, r)

	doRequest(t, mux, http.MethodPut, "/api/inspections/insp-1/items/item-1/finding",
		map[string]interface{}{"status": "pass"})

	rec := doRequest(t, mux, http.MethodPost, "/api/inspections/insp-1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var result syncengine.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.FindingsSynced != 1 || len(result.Errors) != 0 {
		t.Errorf("result = %+v, want one clean sync", result)
	}
	if r.upserts != 1 {
		t.Errorf("backend upserts = %d, want 1", r.upserts)
	}
}

func TestStatsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, &fakeRemote{})

	doRequest(t, mux, http.MethodPut, "/api/inspections/insp-1/items/item-1/finding",
		map[string]interface{}{"status": "pass"})

	rec := doRequest(t, mux, http.MethodGet, "/api/inspections/insp-1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats["pending"].(float64) != 1 {
		t.Errorf("pending = %v, want 1", stats["pending"])
	}
	if stats["posture"] != "dirty" {
		t.Errorf("posture = %v, want dirty", stats["posture"])
	}
}

func TestProgressEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, &fakeRemote{})

	doRequest(t, mux, http.MethodPut, "/api/inspections/insp-1/items/item-1/finding",
		map[string]interface{}{"status": "pass"})

	rec := doRequest(t, mux, http.MethodGet, "/api/inspections/insp-1/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var progress models.Progress
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if progress.Completed != 1 || progress.Total != 2 {
		t.Errorf("progress = %+v, want 1/2", progress)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, &fakeRemote{})

	t.Run("short summary rejected", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/inspections/insp-1/complete",
			map[string]interface{}{"summary": "too short"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("valid summary accepted", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/inspections/insp-1/complete",
			map[string]interface{}{"summary": "roof needs repair before winter"})
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, body %s", rec.Code, rec.Body)
		}
	})
}
