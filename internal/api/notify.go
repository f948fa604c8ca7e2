package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/ingest"
)

// handleNotify accepts a device push and answers with the vendor's
// acknowledgement. Duplicates and suppressed detections are acknowledged as
// success so devices do not retry.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()
	brand := device.Brand(strings.ToUpper(chi.URLParam(r, "brand")))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Warn("notification body unreadable", "brand", brand, "remote_addr", r.RemoteAddr, "error", err)
		writeAck(w, ingest.GenericResponder{}.Failure(status, "unreadable body"))
		return
	}

	out := s.deps.Pipeline.Handle(r.Context(), ingest.Delivery{
		Brand:       brand,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		RemoteAddr:  r.RemoteAddr,
		ReceivedAt:  receivedAt,
	})

	s.logger.Debug("notification handled",
		"brand", brand,
		"state", out.State,
		"remote_addr", r.RemoteAddr,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeAck(w, out.Ack)
}

func writeAck(w http.ResponseWriter, ack ingest.Ack) {
	if ack.ContentType != "" {
		w.Header().Set("Content-Type", ack.ContentType)
	}
	status := ack.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; device may have hung up
	w.Write(ack.Body)
}
