package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 100

// ValidateDevice checks a device before it is stored. It normalises MAC in
// place so lookups by hardware address are exact.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, maxNameLength)
	}
	if !d.Brand.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBrand, d.Brand)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	if strings.TrimSpace(d.Host) == "" || strings.ContainsAny(d.Host, "/ ?#") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, d.Host)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, d.Port)
	}
	if !d.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, d.Direction)
	}

	if d.MAC != nil {
		mac, ok := NormalizeMAC(*d.MAC)
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidMAC, *d.MAC)
		}
		d.MAC = &mac
	}
	if d.Channel <= 0 {
		d.Channel = 1
	}
	return nil
}

// GenerateID returns a new device identifier.
func GenerateID() string {
	return uuid.New().String()
}
