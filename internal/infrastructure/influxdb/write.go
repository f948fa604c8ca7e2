package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAccessEvents = "access_events"
	MeasurementLiveSync     = "livesync"
)

// RecordAccessDecision writes one point per handled recognition.
//
// Suppressed (debounced) detections are recorded too, with an empty
// decision tag, so burst rates stay visible on dashboards.
//
// Parameters:
//   - deviceID: Device that reported the recognition
//   - decision: GRANT or DENY, empty when suppressed
//   - accessType: Credential type of the detection (PLATE, FACE, TAG)
//   - suppressed: Whether debounce dropped the detection
//   - at: Recognition time reported by the device
func (c *Client) RecordAccessDecision(deviceID, decision, accessType string, suppressed bool, at time.Time) {
	c.writePoint(MeasurementAccessEvents,
		map[string]string{
			"device_id":   deviceID,
			"decision":    decision,
			"access_type": accessType,
		},
		map[string]any{
			"count":      1,
			"suppressed": suppressed,
		},
		at,
	)
}

// RecordSyncResult writes one point per device call of a LiveSync run.
// errorKind is empty on success.
//
// Parameters:
//   - deviceID: Device the call went to
//   - brand: Device brand, used as a tag
//   - operation: upsert or delete
//   - errorKind: Driver error kind name, empty on success
//   - duration: Wall time of the device call
func (c *Client) RecordSyncResult(deviceID, brand, operation, errorKind string, duration time.Duration) {
	c.writePoint(MeasurementLiveSync,
		map[string]string{
			"device_id": deviceID,
			"brand":     brand,
			"operation": operation,
			"outcome":   outcomeTag(errorKind),
		},
		map[string]any{
			"duration_ms": duration.Milliseconds(),
			"error_kind":  errorKind,
		},
		time.Now(),
	)
}

func outcomeTag(errorKind string) string {
	if errorKind == "" {
		return "ok"
	}
	return "failed"
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
