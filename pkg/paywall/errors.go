package paywall

import "errors"

var (
	// ErrHardPaywall is returned by Dismiss once the dismissal allowance is
	// used up. The paywall stays until the user subscribes.
	ErrHardPaywall = errors.New("paywall: cannot be dismissed without a subscription")

	ErrNotShowing       = errors.New("paywall: not showing")
	ErrAlreadyStarted   = errors.New("paywall: controller already started")
	ErrControllerClosed = errors.New("paywall: controller is closed")
	ErrStateUnavailable = errors.New("paywall: state unavailable")
)
