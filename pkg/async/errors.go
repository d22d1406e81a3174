package async

import "errors"

var (
	ErrTimeout        = errors.New("async: operation timed out waiting for future completion")
	ErrAlreadyPending = errors.New("async: a request of this kind is already pending")
)
