package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Driver is the uniform contract over one vendor protocol.
//
// Implementations are stateless with respect to business data: everything a
// call needs arrives in its arguments. They may cache transport state such as
// session tokens. All methods must be safe for concurrent use across devices.
type Driver interface {
	// Brand returns the device brand this driver speaks to.
	Brand() device.Brand

	// UpsertCredential makes the device accept subject. Calling it twice with
	// the same subject leaves the device in the same state as calling it once.
	UpsertCredential(ctx context.Context, subject credential.Subject, dev *device.Device) error

	// DeleteCredential removes subject from the device. Removing a credential
	// the device does not hold is a success.
	DeleteCredential(ctx context.Context, subject credential.Subject, dev *device.Device) error

	// FetchSubjectImage retrieves an enrolment or event picture. path, when
	// set, is the vendor picture path carried by an event; otherwise subjectID
	// and then altID are looked up. A nil slice with nil error means absent.
	FetchSubjectImage(ctx context.Context, dev *device.Device, subjectID, altID, path string) ([]byte, error)

	// RawRequest performs an authenticated request verbatim. Non-2xx answers
	// are returned as responses, not errors.
	RawRequest(ctx context.Context, method, path string, payload []byte, dev *device.Device) (*RawResponse, error)
}

// RawResponse is a device answer returned unmodified.
type RawResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Registry maps brands to drivers.
//
// It replaces per-brand switches at call sites: adding a vendor means
// registering one more driver at startup.
type Registry struct {
	mu      sync.RWMutex
	drivers map[device.Brand]Driver
}

// NewRegistry creates a registry holding drivers.
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[device.Brand]Driver)}
	for _, d := range drivers {
		r.Register(d)
	}
	return r
}

// Register adds d, replacing any driver for the same brand.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Brand()] = d
}

// For returns the driver for brand, or an ErrUnsupported error when none is
// registered (GENERIC devices never have one).
func (r *Registry) For(brand device.Brand) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[brand]
	if !ok {
		return nil, &Error{
			Kind:  ErrUnsupported,
			Brand: brand,
			Op:    "dispatch",
			Err:   fmt.Errorf("no driver registered for brand %q", brand),
		}
	}
	return d, nil
}

// ForDevice returns the driver for dev's brand with the device ID filled in
// on failure.
func (r *Registry) ForDevice(dev *device.Device) (Driver, error) {
	d, err := r.For(dev.Brand)
	var de *Error
	if errors.As(err, &de) {
		de.DeviceID = dev.ID
	}
	return d, err
}

// Brands lists registered brands in sorted order.
func (r *Registry) Brands() []device.Brand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	brands := make([]device.Brand, 0, len(r.drivers))
	for b := range r.drivers {
		brands = append(brands, b)
	}
	sort.Slice(brands, func(i, j int) bool { return brands[i] < brands[j] })
	return brands
}
