package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/event"
)

// handleListEvents returns stored access events, newest first.
//
// Query parameters: device_id, decision (GRANT|DENY), since, until (RFC 3339),
// limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := event.Filter{DeviceID: q.Get("device_id")}

	if d := q.Get("decision"); d != "" {
		decision := event.Decision(d)
		if decision != event.DecisionGrant && decision != event.DecisionDeny {
			writeBadRequest(w, "decision must be GRANT or DENY")
			return
		}
		f.Decision = decision
	}

	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeBadRequest(w, "since must be an RFC 3339 timestamp")
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeBadRequest(w, "until must be an RFC 3339 timestamp")
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

	events, err := s.deps.Events.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing access events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleGetEvent returns a single access event.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			writeNotFound(w, "event not found")
			return
		}
		s.logger.Error("loading access event failed", "error", err)
		writeInternalError(w, "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseIntParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
