package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

// controlIDPush is the monitor notification ControlID devices post when an
// access log row is inserted.
type controlIDPush struct {
	DeviceID      json.Number `json:"device_id"`
	ObjectChanges []struct {
		Object string            `json:"object"`
		Type   string            `json:"type"`
		Values map[string]string `json:"values"`
	} `json:"object_changes"`
}

// ControlIDParser handles ControlID monitor pushes.
type ControlIDParser struct{}

// Parse implements Parser.
func (ControlIDParser) Parse(_ string, body []byte) (*Notification, error) {
	var push controlIDPush
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, fmt.Errorf("%w: decoding ControlID push: %w", ErrParse, err)
	}

	for _, ch := range push.ObjectChanges {
		if ch.Object != "access_logs" {
			continue
		}
		v := ch.Values

		n := &Notification{
			DeviceIdentifier: push.DeviceID.String(),
			Metadata:         strings.TrimSpace(string(body)),
		}
		if sec, err := strconv.ParseInt(v["time"], 10, 64); err == nil {
			n.OccurredAt = unixTime(sec)
		}

		switch {
		case nonZero(v["card_value"]):
			n.AccessType = credential.TypeTag
			n.DetectedID = v["card_value"]
		case nonZero(v["user_id"]):
			// Face persons are created with id = credential value.
			n.AccessType = credential.TypeFace
			n.DetectedID = v["user_id"]
		default:
			continue
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: push carries no identified access log", ErrParse)
}

// nonZero reports whether a ControlID numeric string field is set. The
// device sends "0" for absent values.
func nonZero(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}

// ControlIDResponder answers with {"result": bool}.
type ControlIDResponder struct{}

// Success implements Responder.
func (ControlIDResponder) Success() Ack {
	return jsonAck(http.StatusOK, map[string]any{"result": true})
}

// Failure implements Responder.
func (ControlIDResponder) Failure(statusCode int, reason string) Ack {
	return jsonAck(statusCode, map[string]any{"result": false, "error": reason})
}
