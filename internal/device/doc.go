// Package device provides the Device Registry for Gray Logic Access.
//
// A device is a physical access-control endpoint: a licence plate camera, a
// face terminal or an RFID reader. Each has a vendor Brand, which selects
// the driver used to provision it, and a Direction copied onto every access
// event it produces.
//
// # Key Types
//
//   - Device: the registered endpoint and its web API credentials
//   - Registry: cached lookups by ID, hardware address and host
//   - Repository: persistence contract, with a SQLite implementation
//
// # Resolution
//
// Push notifications are attributed to a device in order of confidence:
//
//	registry.FindByMAC(ctx, mac)        // hardware address in the payload
//	registry.FindByHost(ctx, remoteAddr) // source address of the request
//	registry.Fallback(ctx, configuredID) // configured or first by name
package device
