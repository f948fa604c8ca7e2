// Package event stores access events: the immutable GRANT/DENY record of
// every recognition that was not suppressed as a duplicate.
//
// The store is append-only. Repository exposes Create and reads; the SQLite
// schema rejects UPDATE and DELETE on access_events outright.
package event
