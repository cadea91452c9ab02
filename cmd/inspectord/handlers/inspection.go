package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/inspection"
	"github.com/propcare/inspector/internal/models"
	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
)

// QueueNotifier pushes queue count changes to connected UI clients.
type QueueNotifier interface {
	QueueChanged(inspectionID models.UUID, stats queue.Stats)
}

// InspectionHandler serves finding capture, progress, sync, and completion.
type InspectionHandler struct {
	queue    *queue.Queue
	engine   *syncengine.Engine
	tracker  *inspection.Tracker
	notifier QueueNotifier
}

// NewInspectionHandler creates an InspectionHandler. notifier may be nil.
func NewInspectionHandler(q *queue.Queue, engine *syncengine.Engine, tracker *inspection.Tracker, notifier QueueNotifier) *InspectionHandler {
	return &InspectionHandler{
		queue:    q,
		engine:   engine,
		tracker:  tracker,
		notifier: notifier,
	}
}

// Register wires the handler's routes into the mux.
func (h *InspectionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/inspections/{id}/items/{itemID}/finding", h.SaveFinding)
	mux.HandleFunc("GET /api/inspections/{id}/pending", h.ListPending)
	mux.HandleFunc("GET /api/inspections/{id}/stats", h.Stats)
	mux.HandleFunc("GET /api/inspections/{id}/progress", h.Progress)
	mux.HandleFunc("POST /api/inspections/{id}/sync", h.SyncNow)
	mux.HandleFunc("POST /api/inspections/{id}/complete", h.Complete)
}

type saveFindingRequest struct {
	Status       string   `json:"status"`
	Notes        string   `json:"notes"`
	NumericValue *float64 `json:"numeric_value"`
	Response     string   `json:"response"`
}

// SaveFinding handles PUT /api/inspections/{id}/items/{itemID}/finding.
// The save is durable before the response; sync happens later.
func (h *InspectionHandler) SaveFinding(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))
	itemID := models.UUID(r.PathValue("itemID"))

	var req saveFindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	status, err := models.ParseFindingStatus(req.Status)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "unknown finding status", err))
		return
	}

	pending, err := h.queue.EnqueueFinding(inspectionID, itemID, models.Finding{
		Status:       status,
		Notes:        req.Notes,
		NumericValue: req.NumericValue,
		Response:     req.Response,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.tracker.MarkDirty(inspectionID)
	h.notifyQueueChanged(inspectionID)

	writeJSON(w, http.StatusOK, pending)
}

// ListPending handles GET /api/inspections/{id}/pending.
func (h *InspectionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))

	snap, err := h.queue.ListPending(inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"findings": snap.Findings,
		"photos":   snap.Photos,
	})
}

// Stats handles GET /api/inspections/{id}/stats: queue counts plus the
// sync posture for the UI badge.
func (h *InspectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))

	stats, err := h.queue.Stats(inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": stats.Pending,
		"syncing": stats.Syncing,
		"failed":  stats.Failed,
		"synced":  stats.Synced,
		"posture": string(h.tracker.Posture(inspectionID)),
	})
}

// Progress handles GET /api/inspections/{id}/progress.
func (h *InspectionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))

	progress, err := h.tracker.Progress(r.Context(), inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// SyncNow handles POST /api/inspections/{id}/sync. Partial failures come
// back 200 inside the result; only queue storage failure is an error.
func (h *InspectionHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))

	result, err := h.engine.SyncNow(r.Context(), inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.notifyQueueChanged(inspectionID)
	writeJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	Summary string `json:"summary"`
}

// Complete handles POST /api/inspections/{id}/complete.
func (h *InspectionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	if err := h.tracker.Complete(r.Context(), inspectionID, req.Summary); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "completed"})
}

func (h *InspectionHandler) notifyQueueChanged(inspectionID models.UUID) {
	if h.notifier == nil {
		return
	}
	if stats, err := h.queue.Stats(inspectionID); err == nil {
		h.notifier.QueueChanged(inspectionID, stats)
	}
}
