// Package drivertest provides helpers for testing vendor drivers against
// in-process fake devices.
package drivertest

import (
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Device returns a device pointing at srv.
func Device(t testing.TB, srv *httptest.Server, brand device.Brand, kind device.Kind) *device.Device {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("splitting test server host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}

	return &device.Device{
		ID:        "dev-" + string(kind),
		Name:      "Test " + string(brand),
		Brand:     brand,
		Kind:      kind,
		Host:      host,
		Port:      port,
		UseTLS:    u.Scheme == "https",
		Username:  "admin",
		Password:  "secret",
		Direction: device.DirectionEntry,
		Channel:   1,
	}
}

// UnreachableDevice returns a device whose port accepts no connections.
func UnreachableDevice(t testing.TB, brand device.Brand, kind device.Kind) *device.Device {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr) //nolint:forcetypeassert // tcp listener
	l.Close()                       //nolint:errcheck // port only needs to be free

	return &device.Device{
		ID:        "dev-unreachable",
		Name:      "Unreachable",
		Brand:     brand,
		Kind:      kind,
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Direction: device.DirectionEntry,
		Channel:   1,
	}
}
