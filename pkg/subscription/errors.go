package subscription

import "errors"

var (
	// ErrUnavailable means the platform has no purchase module. Purchase
	// affordances should be hidden; retrying does not help.
	ErrUnavailable = errors.New("subscription: in-app purchases are not available on this device")

	// ErrNotInitialized is returned by every operation before a successful Init.
	ErrNotInitialized = errors.New("subscription: engine is not initialized")

	ErrTimeout              = errors.New("subscription: timed out")
	ErrPurchaseCancelled    = errors.New("subscription: purchase cancelled")
	ErrPurchaseFailed       = errors.New("subscription: purchase failed")
	ErrValidationFailed     = errors.New("subscription: receipt validation failed")
	ErrPurchaseInProgress   = errors.New("subscription: another purchase is already in progress")
	ErrProductNotFound      = errors.New("subscription: product not found in catalog")
	ErrNoActiveSubscription = errors.New("subscription: no active subscription found")
	ErrEngineClosed         = errors.New("subscription: engine is closed")

	ErrInvalidStatus  = errors.New("subscription: invalid status")
	ErrInvalidCatalog = errors.New("subscription: invalid catalog")
)
