package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

// genericEvent is the documented JSON format for integrations without a
// vendor protocol.
type genericEvent struct {
	Identifier  string `json:"identifier"`
	AccessType  string `json:"access_type"`
	Device      string `json:"device"`
	OccurredAt  string `json:"occurred_at"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// GenericParser handles the plain JSON format used by GENERIC devices.
type GenericParser struct{}

// Parse implements Parser.
func (GenericParser) Parse(_ string, body []byte) (*Notification, error) {
	var ev genericEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decoding event: %w", ErrParse, err)
	}
	if strings.TrimSpace(ev.Identifier) == "" {
		return nil, fmt.Errorf("%w: missing identifier", ErrParse)
	}

	t := credential.TypePlate
	if ev.AccessType != "" {
		parsed, err := credential.ParseType(ev.AccessType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		t = parsed
	}

	n := &Notification{
		DetectedID:       ev.Identifier,
		AccessType:       t,
		DeviceIdentifier: ev.Device,
		OccurredAt:       parseDeviceTime(ev.OccurredAt),
	}

	if ev.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(ev.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: image_base64: %w", ErrParse, err)
		}
		n.Image = img
		n.ImageContentType = "image/jpeg"
		n.ImageName = "snapshot.jpg"
		ev.ImageBase64 = ""
	}

	// Metadata never carries the picture.
	meta, _ := json.Marshal(ev)
	n.Metadata = string(meta)
	return n, nil
}

// GenericResponder answers with {"status": "..."}.
type GenericResponder struct{}

// Success implements Responder.
func (GenericResponder) Success() Ack {
	return jsonAck(http.StatusOK, map[string]string{"status": "ok"})
}

// Failure implements Responder.
func (GenericResponder) Failure(statusCode int, reason string) Ack {
	return jsonAck(statusCode, map[string]string{"status": "error", "message": reason})
}
