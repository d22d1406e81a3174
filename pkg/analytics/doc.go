// Package analytics defines the fire-and-forget event sink used by the
// subscription engine and the paywall controller.
package analytics
