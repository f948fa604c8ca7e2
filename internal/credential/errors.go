package credential

import "errors"

var (
	// ErrNotFound is returned when a credential, user or group does not exist.
	ErrNotFound = errors.New("credential: not found")

	ErrExists       = errors.New("credential: already exists")
	ErrInvalidType  = errors.New("credential: invalid type")
	ErrInvalidValue = errors.New("credential: invalid value")
)
