package driver

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Error kinds. Every failure a driver returns wraps exactly one of these.
var (
	// ErrConnection covers dial failures, resets and timeouts.
	ErrConnection = errors.New("driver: connection failed")

	// ErrAuth means the device rejected the configured credentials.
	ErrAuth = errors.New("driver: authentication rejected")

	// ErrUnsupported means the brand or device kind cannot perform the operation.
	ErrUnsupported = errors.New("driver: operation not supported")

	// ErrVendorProtocol means the device answered with something unexpected.
	ErrVendorProtocol = errors.New("driver: vendor protocol error")
)

// Error is the typed failure of one driver call against one device.
type Error struct {
	Kind     error
	Brand    device.Brand
	DeviceID string
	Op       string
	Err      error
}

// NewError builds an Error for dev. kind must be one of the Err* sentinels.
func NewError(kind error, dev *device.Device, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if dev != nil {
		e.Brand = dev.Brand
		e.DeviceID = dev.ID
	}
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s on device %s: %v", e.Brand, e.Op, e.DeviceID, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a short label for err's kind, suitable for metrics tags.
// It returns "" for nil and "other" for errors that are not driver errors.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrVendorProtocol):
		return "vendor_protocol"
	default:
		return "other"
	}
}

// Wrap attaches device context to err. Errors that already are *Error pass
// through unchanged; anything else is classified as kind.
func Wrap(kind error, dev *device.Device, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if k := kindOf(err); k != nil {
		kind = k
	}
	return NewError(kind, dev, op, err)
}

func kindOf(err error) error {
	for _, k := range []error{ErrConnection, ErrAuth, ErrUnsupported, ErrVendorProtocol} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Recover converts a panic inside a driver call into an ErrVendorProtocol
// error stored in *errp. Use it as the first deferred call of every exported
// driver method:
//
//	defer driver.Recover(dev, "upsert", &err)
func Recover(dev *device.Device, op string, errp *error) {
	if r := recover(); r != nil {
		*errp = NewError(ErrVendorProtocol, dev, op, fmt.Errorf("panic: %v", r))
	}
}
