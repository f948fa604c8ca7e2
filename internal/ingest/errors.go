package ingest

import "errors"

var (
	// ErrParse means no detected identifier could be extracted from a
	// notification. The delivery is rejected and nothing is stored.
	ErrParse = errors.New("ingest: unparseable notification")

	// ErrPersist means the access event could not be written. It is the only
	// fatal pipeline outcome.
	ErrPersist = errors.New("ingest: event persistence failed")

	// ErrUnknownBrand is returned for deliveries addressed to a brand with no
	// registered parser.
	ErrUnknownBrand = errors.New("ingest: no parser for brand")
)
