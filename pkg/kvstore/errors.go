package kvstore

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrInvalidValue is returned by typed getters when the stored bytes do not decode.
	ErrInvalidValue = errors.New("kvstore: invalid stored value")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("kvstore: unknown driver")
)
