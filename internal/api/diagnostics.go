package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

// handleSyncCredential runs LiveSync for one credential.
//
// With ?async=true the run is queued and 202 is returned immediately;
// otherwise the handler waits for every device and returns the report.
func (s *Server) handleSyncCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("async") == "true" && s.deps.Trigger != nil {
		s.deps.Trigger.Enqueue(id)
		s.recordAudit(r, audit.Entry{Action: audit.ActionCredentialSync, CredentialID: id, Outcome: "queued"})
		writeJSON(w, http.StatusAccepted, map[string]any{
			"credential_id": id,
			"queued":        true,
		})
		return
	}

	report := s.deps.Sync.Sync(r.Context(), id)
	if errors.Is(report.Err(), credential.ErrNotFound) {
		writeNotFound(w, "credential not found")
		return
	}

	entry := audit.Entry{
		Action:       audit.ActionCredentialSync,
		CredentialID: id,
		Details:      map[string]any{"succeeded": report.Succeeded(), "failed": report.Failed()},
	}
	if report.Failed() > 0 {
		entry.Outcome = "device_errors"
	}
	s.recordAudit(r, entry)
	writeJSON(w, http.StatusOK, report)
}

// handleSyncUser re-syncs every credential a user holds, typically after
// their access group membership changed. One report per credential.
func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reports, err := s.deps.Sync.SyncUser(r.Context(), id)
	if err != nil {
		s.logger.Error("user sync failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to list user credentials")
		return
	}

	failed := 0
	for _, report := range reports {
		failed += report.Failed()
	}
	entry := audit.Entry{
		Action:  audit.ActionUserSync,
		Details: map[string]any{"user_id": id, "credentials": len(reports), "failed": failed},
	}
	if failed > 0 {
		entry.Outcome = "device_errors"
	}
	s.recordAudit(r, entry)

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id,
		"reports": reports,
	})
}

// handleSubjectImage proxies an enrolment or event picture from a device.
// Query parameters alt_id and path are passed to the driver unchanged.
func (s *Server) handleSubjectImage(w http.ResponseWriter, r *http.Request) {
	dev, drv, ok := s.deviceDriver(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), imageFetchTimeout)
	defer cancel()

	q := r.URL.Query()
	subjectID := chi.URLParam(r, "subjectID")
	img, err := drv.FetchSubjectImage(ctx, dev, subjectID, q.Get("alt_id"), q.Get("path"))
	s.recordAudit(r, audit.Entry{
		Action:   audit.ActionSubjectImage,
		DeviceID: dev.ID,
		Outcome:  driver.KindName(err),
		Details:  map[string]any{"subject_id": subjectID, "bytes": len(img)},
	})
	if err != nil {
		s.writeDriverError(w, dev, "image", err)
		return
	}
	if len(img) == 0 {
		writeNotFound(w, "image not found on device")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(img)
}

// rawRequestBody is the request body for POST /devices/{id}/raw.
type rawRequestBody struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Payload string `json:"payload"`
}

// rawResponseBody reports a device answer. Body holds text answers;
// binary answers are base64 encoded in BodyBase64 instead.
type rawResponseBody struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        string `json:"body,omitempty"`
	BodyBase64  []byte `json:"body_base64,omitempty"`
}

// handleRawRequest forwards an authenticated request to a device verbatim.
// Device answers are returned with status 200 whatever their own status.
func (s *Server) handleRawRequest(w http.ResponseWriter, r *http.Request) {
	var req rawRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if !strings.HasPrefix(req.Path, "/") {
		writeBadRequest(w, "path must start with /")
		return
	}

	dev, drv, ok := s.deviceDriver(w, r)
	if !ok {
		return
	}

	var payload []byte
	if req.Payload != "" {
		payload = []byte(req.Payload)
	}
	resp, err := drv.RawRequest(r.Context(), req.Method, req.Path, payload, dev)
	entry := audit.Entry{
		Action:   audit.ActionRawRequest,
		DeviceID: dev.ID,
		Outcome:  driver.KindName(err),
		Details:  map[string]any{"method": req.Method, "path": req.Path},
	}
	if err != nil {
		s.recordAudit(r, entry)
		s.writeDriverError(w, dev, "raw", err)
		return
	}
	entry.Details["status_code"] = resp.StatusCode
	s.recordAudit(r, entry)

	s.logger.Info("raw device request",
		"device_id", dev.ID,
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"subject", r.Context().Value(ctxKeySubject),
	)

	out := rawResponseBody{StatusCode: resp.StatusCode, ContentType: resp.ContentType}
	if utf8.Valid(resp.Body) {
		out.Body = string(resp.Body)
	} else {
		out.BodyBase64 = resp.Body
	}
	writeJSON(w, http.StatusOK, out)
}

// deviceDriver loads the {id} device and its driver, writing the error
// response itself when either is missing.
func (s *Server) deviceDriver(w http.ResponseWriter, r *http.Request) (*device.Device, driver.Driver, bool) {
	dev, err := s.deps.Devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, nil, false
		}
		writeInternalError(w, "failed to load device")
		return nil, nil, false
	}

	drv, err := s.deps.Drivers.ForDevice(dev)
	if err != nil {
		s.writeDriverError(w, dev, "dispatch", err)
		return nil, nil, false
	}
	return dev, drv, true
}

// writeDriverError maps a driver failure kind to an HTTP status.
func (s *Server) writeDriverError(w http.ResponseWriter, dev *device.Device, op string, err error) {
	status, code := http.StatusBadGateway, ErrCodeDeviceError
	switch {
	case errors.Is(err, driver.ErrUnsupported):
		status, code = http.StatusNotImplemented, ErrCodeUnsupported
	case errors.Is(err, driver.ErrConnection), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	s.logger.Warn("device call failed",
		"device_id", dev.ID,
		"brand", dev.Brand,
		"operation", op,
		"error_kind", driver.KindName(err),
		"error", err,
	)
	writeError(w, status, code, err.Error())
}
