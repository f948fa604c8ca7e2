// Package hikvision implements the driver for Hikvision devices over ISAPI.
//
// Licence-plate cameras keep an allow list keyed by plate number; access
// terminals keep person records keyed by employeeNo with cards and face
// pictures attached. All requests use HTTP Digest authentication.
//
// Every write is a create-or-modify: provisioning the same credential twice
// leaves the device unchanged.
package hikvision
