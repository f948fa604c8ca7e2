package event

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Decision is the outcome of matching a detection against the credential
// registry.
type Decision string

const (
	DecisionGrant Decision = "GRANT"
	DecisionDeny  Decision = "DENY"
)

var (
	ErrNotFound = errors.New("event: not found")

	// ErrInvalidEvent is returned by Create for events missing required fields.
	ErrInvalidEvent = errors.New("event: invalid")
)

// AccessEvent is the immutable record of one non-suppressed recognition.
//
// Events are created once and never updated or deleted; the store enforces
// this with triggers. The JSON form is the canonical representation served
// to dashboards, the live feed and exports.
type AccessEvent struct {
	ID                 string           `json:"id"`
	Timestamp          time.Time        `json:"timestamp"`
	DeviceID           string           `json:"device_id"`
	CredentialID       *string          `json:"credential_id,omitempty"`
	UserID             *string          `json:"user_id,omitempty"`
	Decision           Decision         `json:"decision"`
	DetectedIdentifier *string          `json:"detected_identifier,omitempty"`
	SnapshotRef        *string          `json:"snapshot_ref,omitempty"`
	Details            string           `json:"details"`
	AccessType         credential.Type  `json:"access_type"`
	Direction          device.Direction `json:"direction"`
}

// NewID returns a new event identifier.
func NewID() string {
	return uuid.New().String()
}

// Granted reports whether the event opened the passage.
func (e *AccessEvent) Granted() bool {
	return e.Decision == DecisionGrant
}

func (e *AccessEvent) validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing id"))
	case e.DeviceID == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing device_id"))
	case e.Decision != DecisionGrant && e.Decision != DecisionDeny:
		return errors.Join(ErrInvalidEvent, errors.New("decision must be GRANT or DENY"))
	case !e.AccessType.Valid():
		return errors.Join(ErrInvalidEvent, errors.New("invalid access_type"))
	case e.Timestamp.IsZero():
		return errors.Join(ErrInvalidEvent, errors.New("missing timestamp"))
	}
	return nil
}
