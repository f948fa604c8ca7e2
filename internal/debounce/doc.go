// Package debounce suppresses duplicate recognitions within a time window.
//
// Cameras typically report the same plate many times while a vehicle sits in
// front of them. The ingestion pipeline consults a Cache before persisting
// anything: only the first sighting in each window produces an access event.
//
// Keys are the cleaned identifier alone. The same plate seen by two different
// cameras inside one window is treated as a single sighting.
package debounce
