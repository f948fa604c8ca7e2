// Package blob stores binary objects such as recognition snapshots and
// enrolment photos.
//
// FileStore is the reference implementation: objects live under a root
// directory partitioned by category and date. Writes go through a temporary
// file and a rename so a crash never leaves a truncated object behind a
// valid reference.
package blob
