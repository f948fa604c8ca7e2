// Package driver defines the contract every access-control vendor driver
// implements and the plumbing they share.
//
// A Driver provisions credentials onto one brand of device, removes them,
// fetches pictures and performs raw diagnostic requests. The Registry maps a
// device brand to its driver; callers never switch on brand themselves.
//
// Failures are *Error values wrapping one of four kinds: ErrConnection,
// ErrAuth, ErrUnsupported and ErrVendorProtocol. Both errors.Is on the kind
// and errors.As on *Error work. Drivers recover their own panics.
//
// HTTPClient is the shared transport: per-device token-bucket throttling,
// HTTP Digest authentication, response size caps and error classification.
package driver
