// Package ingest turns recognition notifications pushed by devices into
// access events.
//
// One Pipeline.Handle call moves a delivery through these states:
//
//	Received -> Parsed -> {Rejected | Suppressed | DeviceResolved}
//	         -> CredentialMatched -> Persisted -> Broadcast -> Acknowledged
//
// Parsing is delegated to a ParserSet keyed by brand; each vendor parser
// yields the same canonical Notification and each vendor Responder formats
// the acknowledgement the device expects. Suppressed duplicates are
// acknowledged as success so devices do not retry. Only a failure to persist
// the event is fatal.
//
// Decisions are exact matches on (type, cleaned identifier). Face
// credentials therefore store the person key the terminal reports back.
package ingest
