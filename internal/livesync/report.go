package livesync

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

// Operation is what a sync asked the devices to do.
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

// DeviceResult is the outcome of one driver call.
type DeviceResult struct {
	DeviceID string
	Brand    device.Brand

	// Err is nil on success, otherwise usually a *driver.Error.
	Err      error
	Duration time.Duration
}

// OK reports whether the device accepted the change.
func (r DeviceResult) OK() bool {
	return r.Err == nil
}

// MarshalJSON renders the error as text plus its driver error kind.
func (r DeviceResult) MarshalJSON() ([]byte, error) {
	out := struct {
		DeviceID   string       `json:"device_id"`
		Brand      device.Brand `json:"brand"`
		OK         bool         `json:"ok"`
		Error      string       `json:"error,omitempty"`
		ErrorKind  string       `json:"error_kind,omitempty"`
		DurationMS int64        `json:"duration_ms"`
	}{
		DeviceID:   r.DeviceID,
		Brand:      r.Brand,
		OK:         r.OK(),
		ErrorKind:  driver.KindName(r.Err),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Report collects the outcomes of one sync run.
type Report struct {
	CredentialID string    `json:"credential_id"`
	Operation    Operation `json:"operation"`
	StartedAt    time.Time `json:"started_at"`

	// Results has one entry per reachable device, ordered by device name.
	Results []DeviceResult `json:"results"`

	// ResolveError is set when the reachable devices could not be
	// determined, for example because the credential does not exist.
	// Results is then empty.
	ResolveError string `json:"resolve_error,omitempty"`

	resolveErr error
}

// Err returns the resolution failure, if any. Device failures are in
// Results and never surface here.
func (r *Report) Err() error {
	return r.resolveErr
}

// Succeeded counts devices that accepted the change.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed counts devices that did not.
func (r *Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Result returns the outcome for deviceID.
func (r *Report) Result(deviceID string) (DeviceResult, bool) {
	for _, res := range r.Results {
		if res.DeviceID == deviceID {
			return res, true
		}
	}
	return DeviceResult{}, false
}
