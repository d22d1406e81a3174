package subscription

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
)

// CheckSubscriptionStatus rebuilds the status from the purchase history.
// The newest eligible purchase is validated and becomes the status; no
// purchase at all means free. When the history cannot be read the current
// status is kept. Before Init the current status is returned unchanged.
func (e *Engine) CheckSubscriptionStatus(ctx context.Context) Status {
	if err := e.ready(); err != nil {
		return e.Status()
	}

	pur, found, err := e.lookupHistory(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "purchase history unavailable, keeping status", logger.Error(err))
		return e.Status()
	}
	if !found {
		st := FreeStatus()
		e.setStatus(ctx, st)
		return st
	}

	st, err := e.statusFor(ctx, pur)
	if err != nil {
		e.log.InfoContext(ctx, "receipt rejected, subscription revoked", logger.ReceiptID(pur.ReceiptID), logger.Error(err))
	}
	e.setStatus(ctx, st)
	return st
}

// RestorePurchases re-reads the purchase history and adopts the newest
// active purchase. It succeeds only if one was found.
func (e *Engine) RestorePurchases(ctx context.Context) PurchaseResult {
	if err := e.ready(); err != nil {
		return failed(err)
	}

	pur, found, err := e.lookupHistory(ctx)
	if err != nil {
		return failed(fmt.Errorf("subscription: restore purchases: %w", err))
	}
	if !found {
		e.setStatus(ctx, FreeStatus())
		e.analytics.Track(ctx, analytics.RestoreCompleted, analytics.Props{"found": false})
		return failed(ErrNoActiveSubscription)
	}

	st, err := e.statusFor(ctx, pur)
	e.setStatus(ctx, st)
	e.analytics.Track(ctx, analytics.RestoreCompleted, analytics.Props{
		"found":      st.IsSubscribed,
		"product_id": pur.ProductID,
	})
	if err != nil {
		return failed(err)
	}
	return PurchaseResult{Success: true, ReceiptID: st.ReceiptID, IsTrialPeriod: st.IsTrialPeriod}
}

// lookupHistory returns the newest eligible purchase. When the history query
// returns nothing, the store may be replaying it as purchase events, so the
// first eligible event within the status window is taken instead.
func (e *Engine) lookupHistory(ctx context.Context) (iap.Purchase, bool, error) {
	v, err, _ := e.flight.Do(historyKey, func() (any, error) {
		fut, err := e.history.Register(historyKey)
		if err != nil {
			return nil, err
		}
		defer e.history.Forget(historyKey, fut)

		purchases, err := e.bridge.GetAvailablePurchases(ctx)
		if err != nil {
			return nil, err
		}
		if pur, ok := e.newestEligible(purchases); ok {
			return &pur, nil
		}
		if len(purchases) > 0 {
			return (*iap.Purchase)(nil), nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, e.statusWindow)
		defer cancel()
		pur, err := fut.AwaitContext(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return (*iap.Purchase)(nil), nil
		}
		return &pur, nil
	})
	if err != nil {
		return iap.Purchase{}, false, err
	}
	if pur := v.(*iap.Purchase); pur != nil {
		return *pur, true, nil
	}
	return iap.Purchase{}, false, nil
}

func (e *Engine) newestEligible(purchases []iap.Purchase) (iap.Purchase, bool) {
	var (
		best  iap.Purchase
		found bool
	)
	for _, p := range purchases {
		if !e.eligible(p) {
			continue
		}
		if !found || p.PurchaseTime.After(best.PurchaseTime) {
			best, found = p, true
		}
	}
	return best, found
}

// statusFor validates pur and returns the status it grants. A receipt the
// validator cannot judge (service down, not configured) still grants the
// subscription: the store reported the purchase, and that is trusted over
// an unreachable validator. Only an explicit rejection or a past expiration
// yields the free status together with an error wrapping ErrValidationFailed.
func (e *Engine) statusFor(ctx context.Context, pur iap.Purchase) (Status, error) {
	granted := SubscribedStatus(e.catalog.TierFor(pur.ProductID), pur.ReceiptID)
	granted.IsTrialPeriod = pur.IsTrial
	granted.AutoRenewing = pur.AutoRenewing

	res, err := e.validator.Validate(ctx, receipt.Request{
		ReceiptID: pur.ReceiptID,
		ProductID: pur.ProductID,
		UserID:    pur.UserID,
	})
	switch {
	case err != nil, res == nil, res.Unverifiable():
		reason := errorText(err)
		if err == nil && res != nil {
			reason = res.Reason
		}
		e.log.WarnContext(ctx, "receipt could not be verified, trusting the store",
			logger.ReceiptID(pur.ReceiptID), "reason", reason)
		e.analytics.Track(ctx, analytics.ValidationFailed, analytics.Props{
			"receipt_id": pur.ReceiptID,
			"reason":     reason,
			"verdict":    false,
		})
		// Keep dates from an earlier validation of the same receipt.
		if cur := e.Status(); cur.IsSubscribed && cur.ReceiptID == pur.ReceiptID {
			return cur, nil
		}
		return granted, nil

	case !res.IsValid:
		e.analytics.Track(ctx, analytics.ValidationFailed, analytics.Props{
			"receipt_id": pur.ReceiptID,
			"reason":     res.Reason,
			"verdict":    true,
		})
		return FreeStatus(), fmt.Errorf("%w: %s: %s", ErrValidationFailed, res.Code, res.Reason)

	case !res.Active(e.now()):
		e.analytics.Track(ctx, analytics.SubscriptionExpired, analytics.Props{"receipt_id": pur.ReceiptID})
		return FreeStatus(), fmt.Errorf("%w: subscription expired", ErrValidationFailed)

	default:
		return granted.withValidation(res.ExpirationDate, res.IsTrialPeriod, res.AutoRenewing), nil
	}
}

// reconcile validates a freshly purchased receipt and copies the
// authoritative dates into the status. Any failure keeps the optimistic
// status.
func (e *Engine) reconcile(ctx context.Context, pur iap.Purchase) {
	res, err := e.validator.Validate(ctx, receipt.Request{
		ReceiptID: pur.ReceiptID,
		ProductID: pur.ProductID,
		UserID:    pur.UserID,
	})
	if err != nil || res == nil || !res.IsValid {
		reason := errorText(err)
		if err == nil && res != nil {
			reason = fmt.Sprintf("%s: %s", res.Code, res.Reason)
		}
		e.log.WarnContext(ctx, "purchase receipt validation failed, keeping subscription",
			logger.ReceiptID(pur.ReceiptID), "reason", reason)
		e.analytics.Track(ctx, analytics.ValidationFailed, analytics.Props{
			"receipt_id": pur.ReceiptID,
			"reason":     reason,
		})
		return
	}

	e.updateStatus(ctx, func(cur Status) (Status, bool) {
		if !cur.IsSubscribed || cur.ReceiptID != pur.ReceiptID {
			return cur, false
		}
		return cur.withValidation(res.ExpirationDate, res.IsTrialPeriod, res.AutoRenewing), true
	})
}
