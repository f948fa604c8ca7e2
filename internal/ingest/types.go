package ingest

import (
	"time"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/event"
)

// Delivery is one inbound device push as received by the HTTP layer.
type Delivery struct {
	Brand       device.Brand
	ContentType string
	Body        []byte

	// RemoteAddr is the sender's address (host:port) for device resolution.
	RemoteAddr string

	// ReceivedAt is the server receive instant. It drives debouncing.
	ReceivedAt time.Time
}

// State is the terminal state of one pipeline execution.
type State string

const (
	StateRejected   State = "rejected"
	StateSuppressed State = "suppressed"
	StatePersisted  State = "persisted"
	StateFailed     State = "failed"
)

// Ack is the vendor-specific acknowledgement sent back to the device.
type Ack struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Outcome is the result of Pipeline.Handle.
type Outcome struct {
	State State

	// Event is set when State is StatePersisted.
	Event *event.AccessEvent

	Ack Ack

	// Err is set for StateRejected and StateFailed.
	Err error
}

// Notification is the canonical record every vendor parser produces.
type Notification struct {
	// DetectedID is the raw identifier (plate text, card number, person key).
	DetectedID string
	AccessType credential.Type

	// DeviceIdentifier is the sender's hardware address when the payload
	// carries one.
	DeviceIdentifier string

	// OccurredAt is the device-reported instant; zero when absent.
	OccurredAt time.Time

	// Metadata is the structured document as received, without images.
	Metadata string

	Image            []byte
	ImageContentType string
	ImageName        string
}
