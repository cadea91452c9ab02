// Package photo turns a capture interaction into a locally stored,
// previewable, upload-ready artifact without touching the network.
package photo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/sync/queue"
	"github.com/propcare/inspector/internal/uuid"
)

const (
	// maxDimension bounds the stored blob; phone cameras produce far more
	// pixels than an inspection report needs.
	maxDimension = 1600
	// previewDimension bounds the thumbnail shown in the checklist.
	previewDimension = 320
	jpegQuality      = 85
	// maxBlobBytes rejects blobs that are clearly not a photo.
	maxBlobBytes = 32 << 20
	// remoteDeleteTimeout bounds the background delete of a synced photo's
	// server copy.
	remoteDeleteTimeout = 30 * time.Second
)

// Remote is the slice of the backend needed for deleting synced photos.
type Remote interface {
	DeletePhoto(ctx context.Context, remoteID string) error
}

type captureKey struct {
	inspectionID models.UUID
	itemID       models.UUID
}

// Pipeline processes captured images into queued photos. One capture may
// be in flight per checklist item at a time.
type Pipeline struct {
	queue  *queue.Queue
	remote Remote
	dir    string

	mu        sync.Mutex
	capturing map[captureKey]bool
}

// New creates a Pipeline storing blobs and previews under dataDir/photos.
func New(q *queue.Queue, remote Remote, dataDir string) (*Pipeline, error) {
	dir := filepath.Join(dataDir, "photos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create photo directory", err)
	}
	return &Pipeline{
		queue:     q,
		remote:    remote,
		dir:       dir,
		capturing: make(map[captureKey]bool),
	}, nil
}

// Capture is one in-flight capture for a checklist item. It must be
// finished with OnCaptured or released with Cancel.
type Capture struct {
	p    *Pipeline
	key  captureKey
	done bool
}

// OpenCapture claims the item's capture slot. A second OpenCapture for the
// same item before the first finishes returns CAPTURE_IN_PROGRESS.
func (p *Pipeline) OpenCapture(inspectionID, itemID models.UUID) (*Capture, error) {
	key := captureKey{inspectionID: inspectionID, itemID: itemID}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capturing[key] {
		return nil, apperrors.New(apperrors.ErrCaptureInProgress, "a capture is already in progress for this item")
	}
	p.capturing[key] = true
	return &Capture{p: p, key: key}, nil
}

// Cancel releases the capture slot without producing a photo.
func (c *Capture) Cancel() {
	c.release()
}

func (c *Capture) release() {
	if c.done {
		return
	}
	c.done = true
	c.p.mu.Lock()
	delete(c.p.capturing, c.key)
	c.p.mu.Unlock()
}

// OnCaptured processes the captured blob and queues it for upload.
// serverPhotoCount is the number of photos the server already holds for
// the item. The returned PendingPhoto has its preview written to disk and
// renderable immediately. On any error nothing is queued and no files
// remain; a cap violation surfaces as CAPACITY_EXCEEDED.
func (c *Capture) OnCaptured(ctx context.Context, blob io.Reader, serverPhotoCount int) (*models.PendingPhoto, error) {
	defer c.release()
	return c.p.process(ctx, c.key.inspectionID, c.key.itemID, blob, serverPhotoCount)
}

func (p *Pipeline) process(ctx context.Context, inspectionID, itemID models.UUID, blob io.Reader, serverPhotoCount int) (*models.PendingPhoto, error) {
	raw, err := io.ReadAll(io.LimitReader(blob, maxBlobBytes+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read captured blob", err)
	}
	if len(raw) > maxBlobBytes {
		return nil, apperrors.New(apperrors.ErrInvalidImage, "captured blob exceeds the 32MB limit")
	}

	img, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}

	pending := &models.PendingPhoto{
		InspectionID: inspectionID,
		ItemID:       itemID,
	}

	id := models.UUID(uuid.New())
	blobPath := filepath.Join(p.dir, string(id)+".jpg")
	previewPath := filepath.Join(p.dir, string(id)+"_preview.jpg")

	if err := writeJPEG(blobPath, imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)); err != nil {
		return nil, err
	}
	if err := writeJPEG(previewPath, imaging.Fit(img, previewDimension, previewDimension, imaging.Lanczos)); err != nil {
		os.Remove(blobPath)
		return nil, err
	}

	pending.ID = id
	pending.BlobPath = blobPath
	pending.PreviewPath = previewPath

	if err := p.queue.EnqueuePhoto(pending, serverPhotoCount); err != nil {
		os.Remove(blobPath)
		os.Remove(previewPath)
		return nil, err
	}

	logging.Debug("Photo captured", map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"item_id":       itemID.String(),
		"photo_id":      pending.ID.String(),
	})
	return pending, nil
}

// decodeImage sniffs the blob and decodes jpeg, png, or webp.
func decodeImage(raw []byte) (image.Image, error) {
	kind := mimetype.Detect(raw)
	switch kind.String() {
	case "image/jpeg", "image/png", "image/webp":
	default:
		return nil, apperrors.New(apperrors.ErrInvalidImage,
			fmt.Sprintf("unsupported capture type %s", kind.String()))
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidImage, "failed to decode captured image", err)
	}
	return img, nil
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to create photo file", err)
	}
	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		f.Close()
		os.Remove(path)
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode photo", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return apperrors.Wrap(apperrors.ErrStorage, "failed to flush photo file", err)
	}
	return nil
}

// DeletePhoto removes a queued photo. Pending and failed photos are purely
// local and the call returns once the record and files are gone. A synced
// photo additionally gets a fire-and-forget remote delete with one retry;
// the caller never waits on the network, and if the server still refuses,
// the failure is logged while the local copy is gone regardless.
func (p *Pipeline) DeletePhoto(ctx context.Context, id models.UUID) error {
	record, err := p.queue.RemovePhoto(id)
	if err != nil {
		return err
	}
	if record == nil {
		return apperrors.New(apperrors.ErrNotFound, "photo not found")
	}

	removeFiles(record)

	if record.SyncState == models.SyncStateSynced && record.RemoteID != "" {
		go p.deleteRemote(record)
	}
	return nil
}

// deleteRemote clears the server-side copy with a single retry, detached
// from the request that triggered the delete. The photo is cosmetic
// metadata server-side at this point, so a permanent failure is logged
// rather than queued.
func (p *Pipeline) deleteRemote(record *models.PendingPhoto) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteDeleteTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = p.remote.DeletePhoto(ctx, record.RemoteID); err == nil {
			return
		}
	}
	logging.Warn("Remote photo delete failed, giving up", map[string]interface{}{
		"photo_id":  record.ID.String(),
		"remote_id": record.RemoteID,
		"error":     err.Error(),
	})
}

func removeFiles(record *models.PendingPhoto) {
	if record.BlobPath != "" {
		os.Remove(record.BlobPath)
	}
	if record.PreviewPath != "" {
		os.Remove(record.PreviewPath)
	}
}
