package receipt

import "errors"

var (
	// ErrNetwork wraps transport failures of every configured link of the chain.
	ErrNetwork = errors.New("receipt: validation service unreachable")

	// ErrNotConfigured is returned outside development when no validation service is configured.
	ErrNotConfigured = errors.New("receipt: no validation service configured")

	ErrCircuitOpen     = errors.New("receipt: backend circuit breaker is open")
	ErrBackendStatus   = errors.New("receipt: backend returned non-2xx status")
	ErrMissingUserID   = errors.New("receipt: vendor verification requires a user id")
	ErrInvalidResponse = errors.New("receipt: invalid response body")
)
