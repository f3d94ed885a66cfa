package keys

import "errors"

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("key not found")

	// ErrDuplicateSecret is returned by Add when the secret is already stored.
	ErrDuplicateSecret = errors.New("key secret already stored")

	// ErrEmptySecret is returned by Add for a blank secret.
	ErrEmptySecret = errors.New("key secret cannot be empty")
)
