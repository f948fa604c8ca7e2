package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

// dahuaEvent is the flat event message Dahua devices upload.
type dahuaEvent struct {
	Code   string `json:"Code"`
	Action string `json:"Action"`
	MAC    string `json:"MAC"`
	Data   struct {
		PlateNumber string  `json:"PlateNumber"`
		CardNo      string  `json:"CardNo"`
		UserID      string  `json:"UserID"`
		UTC         float64 `json:"UTC"`
		Object      struct {
			Text string `json:"Text"`
		} `json:"Object"`
	} `json:"Data"`
}

// DahuaParser handles Dahua event uploads: a flat JSON message, or multipart
// with the JSON message and a snapshot.
type DahuaParser struct{}

// Parse implements Parser.
func (DahuaParser) Parse(contentType string, body []byte) (*Notification, error) {
	mt, params := mediaType(contentType)

	if strings.HasPrefix(mt, "multipart/") {
		parts, err := readParts(params, body)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			if p.isImage() || looksLike(p.data) != "json" {
				continue
			}
			n, err := parseDahuaEvent(p.data)
			if err != nil {
				return nil, err
			}
			firstImage(n, parts)
			return n, nil
		}
		return nil, fmt.Errorf("%w: multipart without an event message", ErrParse)
	}

	return parseDahuaEvent(body)
}

func parseDahuaEvent(data []byte) (*Notification, error) {
	var ev dahuaEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: decoding Dahua event: %w", ErrParse, err)
	}

	n := &Notification{
		DeviceIdentifier: ev.MAC,
		OccurredAt:       unixTime(int64(ev.Data.UTC)),
		Metadata:         strings.TrimSpace(string(data)),
	}

	plate := ev.Data.PlateNumber
	if plate == "" {
		plate = ev.Data.Object.Text
	}
	switch {
	case plate != "":
		n.AccessType = credential.TypePlate
		n.DetectedID = plate
	case ev.Data.CardNo != "":
		n.AccessType = credential.TypeTag
		n.DetectedID = ev.Data.CardNo
	case ev.Data.UserID != "":
		n.AccessType = credential.TypeFace
		n.DetectedID = ev.Data.UserID
	default:
		return nil, fmt.Errorf("%w: %s event carries no identifier", ErrParse, ev.Code)
	}
	return n, nil
}

// DahuaResponder answers with {"Result": bool}.
type DahuaResponder struct{}

// Success implements Responder.
func (DahuaResponder) Success() Ack {
	return jsonAck(http.StatusOK, map[string]any{"Result": true})
}

// Failure implements Responder.
func (DahuaResponder) Failure(statusCode int, reason string) Ack {
	return jsonAck(statusCode, map[string]any{"Result": false, "Reason": reason})
}

func jsonAck(statusCode int, v any) Ack {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{}`)
	}
	return Ack{StatusCode: statusCode, ContentType: "application/json", Body: body}
}
