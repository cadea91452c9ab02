// Package remote is the HTTP client for the property-care backend. The sync
// core only depends on the call contract here, not on payload details: the
// backend is a capability-shaped collaborator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/models"
)

// DefaultTimeout bounds every individual backend call. A timed-out call is
// handled exactly like any other per-item failure.
const DefaultTimeout = 30 * time.Second

// PhotoUpload is the backend's acknowledgment of a stored photo.
type PhotoUpload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client talks to the backend REST API.
type Client struct {
	BaseURL  string
	APIToken string
	DeviceID string
	HTTP     *http.Client
}

// New creates a backend client with the default timeout.
func New(baseURL, apiToken, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIToken: apiToken,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

// UpsertFinding writes one finding. The backend treats repeated upserts with
// the same content as idempotent, which is what makes retry-forever safe.
func (c *Client) UpsertFinding(ctx context.Context, inspectionID, itemID models.UUID, finding models.Finding) error {
	path := fmt.Sprintf("/v1/inspections/%s/items/%s/finding",
		url.PathEscape(inspectionID.String()), url.PathEscape(itemID.String()))
	return c.doJSON(ctx, http.MethodPut, path, finding, nil)
}

// UploadPhoto stores a photo blob and associates it with the item's finding.
func (c *Client) UploadPhoto(ctx context.Context, inspectionID, itemID models.UUID, blob io.Reader, filename string) (*PhotoUpload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build upload form", err)
	}
	if _, err := io.Copy(part, blob); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to read photo blob", err)
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to finish upload form", err)
	}

	path := fmt.Sprintf("/v1/inspections/%s/items/%s/photos",
		url.PathEscape(inspectionID.String()), url.PathEscape(itemID.String()))
	req, err := c.newRequest(ctx, http.MethodPost, path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result PhotoUpload
	if err := c.send(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePhoto removes a previously uploaded photo.
func (c *Client) DeletePhoto(ctx context.Context, remoteID string) error {
	path := "/v1/photos/" + url.PathEscape(remoteID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// GetInspection fetches the server's view of an inspection: checklist,
// confirmed findings and confirmed photos.
func (c *Client) GetInspection(ctx context.Context, inspectionID models.UUID) (*models.InspectionSnapshot, error) {
	path := "/v1/inspections/" + url.PathEscape(inspectionID.String())
	var snap models.InspectionSnapshot
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CompleteInspection submits the inspection summary and marks it complete.
// Callers gate this on the completion-eligibility predicate first.
func (c *Client) CompleteInspection(ctx context.Context, inspectionID models.UUID, summary string) error {
	path := fmt.Sprintf("/v1/inspections/%s/complete", url.PathEscape(inspectionID.String()))
	payload := map[string]string{"summary": summary}
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// Ping reports whether the backend answers at all. Used as the connectivity
// probe; it must never be trusted as a sync guarantee.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

// doJSON runs one JSON request/response round trip.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	return req, nil
}

// send executes the request and classifies the outcome. Transport problems
// (unreachable, timeout) become NETWORK_ERROR; HTTP statuses map onto the
// error taxonomy so the engine can report per-item reasons.
func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Keep the server's reason if it sent one
		msg := readErrorMessage(resp.Body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return apperrors.New(apperrors.ErrAuthFailed, msg)
		case resp.StatusCode == http.StatusNotFound:
			return apperrors.New(apperrors.ErrNotFound, msg)
		default:
			return apperrors.New(apperrors.ErrServer,
				fmt.Sprintf("%s (status %d)", msg, resp.StatusCode))
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrServer, "failed to decode response", err)
	}
	return nil
}

// readErrorMessage extracts {"error": "..."} bodies, falling back to a
// generic message.
func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "request rejected"
}
