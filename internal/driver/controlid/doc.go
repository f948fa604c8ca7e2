// Package controlid implements the driver for ControlID access terminals
// and readers.
//
// The API is JSON over HTTP with a session token obtained from login.fcgi.
// Persons are keyed by their registration field, which carries the owning
// user ID; cards and face pictures hang off the person. Licence plates are
// not supported.
package controlid
