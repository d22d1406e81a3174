package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/paywall/pkg/analytics"
)

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithAnalytics(s analytics.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.analytics = s
		}
	}
}

// WithCatalog replaces DefaultCatalog. An invalid catalog panics, since the
// engine cannot map purchases to tiers without one.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) {
		if err := c.Validate(); err != nil {
			panic(err)
		}
		e.catalog = c
	}
}

// WithClock sets the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPollSchedule sets when a pending purchase re-queries the purchase
// history: once after early, then every interval for at most attempts times.
func WithPollSchedule(early, interval time.Duration, attempts int) Option {
	return func(e *Engine) {
		if early > 0 {
			e.pollEarly = early
		}
		if interval > 0 {
			e.pollInterval = interval
		}
		if attempts >= 0 {
			e.pollAttempts = attempts
		}
	}
}

// WithPurchaseTimeout bounds how long Purchase waits for any confirmation.
func WithPurchaseTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.purchaseTimeout = d
		}
	}
}

// WithCatalogTimeout bounds how long LoadProducts waits for the catalog event.
func WithCatalogTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.catalogTimeout = d
		}
	}
}

// WithStatusWindow bounds how long a status check waits for a purchase
// history event when the history query itself returned nothing.
func WithStatusWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.statusWindow = d
		}
	}
}

// WithVerifyInterval sets the period of background re-verification.
func WithVerifyInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.verifyInterval = d
		}
	}
}
