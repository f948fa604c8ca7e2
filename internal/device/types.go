package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Brand identifies the vendor protocol a device speaks. The set is closed:
// every brand either has a registered driver or is GENERIC.
type Brand string

const (
	BrandHikvision Brand = "HIKVISION"
	BrandDahua     Brand = "DAHUA"
	BrandControlID Brand = "CONTROLID"

	// BrandGeneric is for devices that push events but cannot be provisioned.
	BrandGeneric Brand = "GENERIC"
)

// AllBrands lists every valid brand.
var AllBrands = []Brand{BrandHikvision, BrandDahua, BrandControlID, BrandGeneric}

// Valid reports whether b is a known brand.
func (b Brand) Valid() bool {
	for _, known := range AllBrands {
		if b == known {
			return true
		}
	}
	return false
}

// ParseBrand accepts a brand name in any case ("hikvision", "ControlID").
func ParseBrand(s string) (Brand, error) {
	b := Brand(strings.ToUpper(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBrand, s)
	}
	return b, nil
}

// Kind is the physical device category. It selects which credential types a
// driver provisions on the device.
type Kind string

const (
	KindLPRCamera    Kind = "lpr_camera"
	KindFaceTerminal Kind = "face_terminal"
	KindRFIDReader   Kind = "rfid_reader"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLPRCamera, KindFaceTerminal, KindRFIDReader:
		return true
	}
	return false
}

// Direction is the physical passage direction a device guards.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// Valid reports whether d is ENTRY or EXIT.
func (d Direction) Valid() bool {
	return d == DirectionEntry || d == DirectionExit
}

// Device is a physical access-control device.
//
// Devices are owned by the Registry. Events and sync jobs reference them by
// ID and never keep their own copies beyond a single operation.
type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Brand Brand  `json:"brand"`
	Kind  Kind   `json:"kind"`

	// Host is an IP address or hostname. Port 0 means the scheme default.
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	UseTLS bool   `json:"use_tls"`

	// Username and Password authenticate against the device's own web API.
	Username string `json:"username,omitempty"`
	Password string `json:"-"`

	Direction Direction `json:"direction"`

	// MAC is the normalised hardware address, when known. Push notifications
	// carry it and it is the preferred way to resolve the sender.
	MAC *string `json:"mac,omitempty"`

	// Channel is the vendor channel number (cameras with several inputs).
	Channel int `json:"channel"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.MAC != nil {
		mac := *d.MAC
		cp.MAC = &mac
	}
	return &cp
}

// BaseURL returns scheme://host[:port] for the device web API.
func (d *Device) BaseURL() string {
	scheme := "http"
	if d.UseTLS {
		scheme = "https"
	}
	if d.Port == 0 {
		return scheme + "://" + d.Host
	}
	return scheme + "://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// EffectiveChannel returns Channel, defaulting to 1.
func (d *Device) EffectiveChannel() int {
	if d.Channel <= 0 {
		return 1
	}
	return d.Channel
}

// NormalizeMAC converts a hardware address in any common notation
// ("AA-BB-CC-DD-EE-FF", "aabb.ccdd.eeff", "AABBCCDDEEFF") to lower-case colon
// form. ok is false when s does not contain exactly six octets.
func NormalizeMAC(s string) (mac string, ok bool) {
	var hex strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			hex.WriteRune(r)
		case r == ':' || r == '-' || r == '.':
		default:
			return "", false
		}
	}
	h := hex.String()
	if len(h) != 12 {
		return "", false
	}

	var out strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			out.WriteByte(':')
		}
		out.WriteString(h[i : i+2])
	}
	return out.String(), true
}
