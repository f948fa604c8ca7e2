package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	// ErrNoDevices is returned by Fallback when the registry is empty.
	ErrNoDevices = errors.New("device: no devices registered")

	ErrInvalidDevice    = errors.New("device: invalid")
	ErrInvalidName      = errors.New("device: invalid name")
	ErrInvalidBrand     = errors.New("device: invalid brand")
	ErrInvalidKind      = errors.New("device: invalid kind")
	ErrInvalidHost      = errors.New("device: invalid host")
	ErrInvalidPort      = errors.New("device: invalid port")
	ErrInvalidDirection = errors.New("device: invalid direction")
	ErrInvalidMAC       = errors.New("device: invalid MAC address")
)
