package handlers

import (
	"net/http"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/inspection"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/photo"
	"github.com/propcare/inspector/internal/sync/queue"
)

// maxUploadBytes bounds the multipart form held in memory per capture.
const maxUploadBytes = 32 << 20

// PhotoHandler serves photo capture, preview, and deletion.
type PhotoHandler struct {
	pipeline *photo.Pipeline
	queue    *queue.Queue
	tracker  *inspection.Tracker
	notifier QueueNotifier
}

// NewPhotoHandler creates a PhotoHandler. notifier may be nil.
func NewPhotoHandler(pipeline *photo.Pipeline, q *queue.Queue, tracker *inspection.Tracker, notifier QueueNotifier) *PhotoHandler {
	return &PhotoHandler{
		pipeline: pipeline,
		queue:    q,
		tracker:  tracker,
		notifier: notifier,
	}
}

// Register wires the handler's routes into the mux.
func (h *PhotoHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/inspections/{id}/items/{itemID}/photos", h.Upload)
	mux.HandleFunc("GET /api/photos/{id}/preview", h.Preview)
	mux.HandleFunc("DELETE /api/photos/{id}", h.Delete)
}

// Upload handles POST /api/inspections/{id}/items/{itemID}/photos with a
// multipart "photo" part. The response carries the queued photo including
// its preview path, available before any upload happens.
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	inspectionID := models.UUID(r.PathValue("id"))
	itemID := models.UUID(r.PathValue("itemID"))

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid multipart body", err))
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "missing photo part"))
		return
	}
	defer file.Close()

	capture, err := h.pipeline.OpenCapture(inspectionID, itemID)
	if err != nil {
		writeError(w, err)
		return
	}

	serverCount, err := h.tracker.ServerPhotoCount(r.Context(), inspectionID, itemID)
	if err != nil {
		capture.Cancel()
		writeError(w, err)
		return
	}

	pending, err := capture.OnCaptured(r.Context(), file, serverCount)
	if err != nil {
		writeError(w, err)
		return
	}

	h.tracker.MarkDirty(inspectionID)
	h.notifyQueueChanged(inspectionID)

	writeJSON(w, http.StatusCreated, pending)
}

// Preview handles GET /api/photos/{id}/preview, serving the local
// thumbnail file.
func (h *PhotoHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))

	record, err := h.queue.GetPhoto(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if record == nil || record.PreviewPath == "" {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "photo not found"))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, record.PreviewPath)
}

// Delete handles DELETE /api/photos/{id}.
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))

	record, err := h.queue.GetPhoto(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.pipeline.DeletePhoto(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	if record != nil {
		h.notifyQueueChanged(record.InspectionID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})
}

func (h *PhotoHandler) notifyQueueChanged(inspectionID models.UUID) {
	if h.notifier == nil {
		return
	}
	if stats, err := h.queue.Stats(inspectionID); err == nil {
		h.notifier.QueueChanged(inspectionID, stats)
	}
}
