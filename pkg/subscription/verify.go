package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/appstate"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
)

// VerifyNow re-checks the current subscription. An expired or free status
// is rebuilt from the purchase history. A subscribed status is validated: an
// active receipt refreshes the dates, an unverifiable one is kept, and a
// rejected or expired one triggers CheckSubscriptionStatus. Concurrent calls
// are independent; the last result wins.
func (e *Engine) VerifyNow(ctx context.Context) Status {
	if err := e.ready(); err != nil {
		return e.Status()
	}
	defer func() {
		if err := e.store.markVerified(context.WithoutCancel(ctx), e.now()); err != nil {
			e.log.WarnContext(ctx, "failed to record verification time", logger.Error(err))
		}
	}()

	cur := e.Status()
	if cur.Expired(e.now()) {
		e.log.InfoContext(ctx, "subscription expired, checking purchase history", logger.Tier(string(cur.Tier)))
		e.analytics.Track(ctx, analytics.SubscriptionExpired, analytics.Props{"receipt_id": cur.ReceiptID})
		return e.CheckSubscriptionStatus(ctx)
	}
	if !cur.IsSubscribed || cur.ReceiptID == "" {
		return e.CheckSubscriptionStatus(ctx)
	}

	res, err := e.validator.Validate(ctx, receipt.Request{
		ReceiptID: cur.ReceiptID,
		ProductID: e.catalog.productFor(cur.Tier),
	})
	switch {
	case err != nil, res == nil, res.Unverifiable():
		e.log.DebugContext(ctx, "re-verification inconclusive, keeping status", logger.ReceiptID(cur.ReceiptID), logger.Error(err))
		return cur
	case res.Active(e.now()):
		st, _ := e.updateStatus(ctx, func(c Status) (Status, bool) {
			if !c.IsSubscribed || c.ReceiptID != cur.ReceiptID {
				return c, false
			}
			return c.withValidation(res.ExpirationDate, res.IsTrialPeriod, res.AutoRenewing), true
		})
		return st
	default:
		e.log.InfoContext(ctx, "receipt no longer active, checking purchase history",
			logger.ReceiptID(cur.ReceiptID), "code", string(res.Code))
		return e.CheckSubscriptionStatus(ctx)
	}
}

// LastVerified returns when VerifyNow last ran, if ever.
func (e *Engine) LastVerified(ctx context.Context) (time.Time, bool) {
	t, err := e.store.lastVerified(ctx)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			e.log.WarnContext(ctx, "failed to read verification time", logger.Error(err))
		}
		return time.Time{}, false
	}
	return t, true
}

// StartVerification runs VerifyNow on the verify interval, counted from the
// last recorded verification, and on every move of the app to the
// foreground. It stops when ctx ends, stop is called or the engine closes.
func (e *Engine) StartVerification(ctx context.Context, tracker *appstate.Tracker) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	stopListen := func() {}
	if tracker != nil {
		stopListen = tracker.Listen(ctx, func(c appstate.Change) {
			if c.IsForeground() {
				e.background(func(bg context.Context) { e.VerifyNow(bg) })
			}
		})
	}

	first := e.verifyInterval
	if last, ok := e.LastVerified(ctx); ok {
		first = max(last.Add(e.verifyInterval).Sub(e.now()), 0)
	}

	e.background(func(bg context.Context) {
		timer := time.NewTimer(first)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-bg.Done():
				return
			case <-timer.C:
				e.VerifyNow(ctx)
				timer.Reset(e.verifyInterval)
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stopListen()
		})
	}
}

// productFor returns the first product id granting tier.
func (c Catalog) productFor(tier Tier) string {
	for _, p := range c.Plans {
		if p.Tier == tier {
			return p.ProductID
		}
	}
	return ""
}
