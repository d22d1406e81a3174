package iap

import "errors"

var (
	// ErrNativeModuleUnavailable is returned when the platform has no purchase module.
	ErrNativeModuleUnavailable = errors.New("iap: native purchase module is not available on this platform")

	ErrNotConnected    = errors.New("iap: connection is not initialized")
	ErrUnknownProduct  = errors.New("iap: unknown product")
	ErrBridgeClosed    = errors.New("iap: bridge is closed")
	ErrNothingPending  = errors.New("iap: no pending request for product")
	ErrPurchasePending = errors.New("iap: purchase already pending for product")
)
