// Package dahua implements the driver for Dahua devices over the HTTP CGI
// API with Digest authentication.
//
// Plates live in the TrafficRedList table and cards in AccessControlCard.
// Writes look the row up by its key first and update it in place when it
// exists, which keeps repeated provisioning from creating duplicates. Face
// enrolment is not supported.
package dahua
