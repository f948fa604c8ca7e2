package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

// recordAudit stores e with the caller's token subject. Failures are logged
// and never change the response.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	if s.deps.Audit == nil {
		return
	}
	e.Source = audit.SourceAPI
	e.Subject, _ = r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // set by authMiddleware
	if err := s.deps.Audit.Create(r.Context(), &e); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", e.Action,
			"device_id", e.DeviceID,
			"error", err,
		)
	}
}

// handleListAudit returns the operator audit trail, newest first.
//
// Query parameters: action, device_id, subject, since (RFC 3339), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeNotFound(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		Subject:  q.Get("subject"),
	}

	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeBadRequest(w, "since must be an RFC 3339 timestamp")
		return
	}
	if f.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if f.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	res, err := s.deps.Audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
