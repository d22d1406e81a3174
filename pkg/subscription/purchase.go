package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/async"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/statemachine"
)

// Purchase lifecycle states and events.
const (
	stateIdle      = statemachine.StringState("idle")
	stateRequested = statemachine.StringState("requested")
	stateAwaiting  = statemachine.StringState("awaiting")
	stateSucceeded = statemachine.StringState("resolved_success")
	stateFailed    = statemachine.StringState("resolved_error")
	stateTimedOut  = statemachine.StringState("resolved_timeout")

	evRequest = statemachine.StringEvent("request")
	evSent    = statemachine.StringEvent("sent")
	evSucceed = statemachine.StringEvent("succeed")
	evFail    = statemachine.StringEvent("fail")
	evTimeout = statemachine.StringEvent("timeout")
)

// newPurchaseLifecycle builds the per-purchase state machine. Completion
// events are accepted before the request is acknowledged, since the store
// may answer before RequestSubscription returns. Resolved states are
// terminal, so only the first completion source wins.
func newPurchaseLifecycle(log *slog.Logger) statemachine.StateMachine {
	opts := []statemachine.Option{
		statemachine.WithTransition(stateIdle, stateRequested, evRequest),
		statemachine.WithTransition(stateRequested, stateAwaiting, evSent),
		statemachine.WithTerminal(stateSucceeded, stateFailed, stateTimedOut),
		statemachine.WithHook(func(ctx context.Context, from, to statemachine.State, ev statemachine.Event) {
			log.DebugContext(ctx, "purchase lifecycle", "from", from.Name(), "to", to.Name(), "event", ev.Name())
		}),
	}
	for _, from := range []statemachine.State{stateRequested, stateAwaiting} {
		opts = append(opts,
			statemachine.WithTransition(from, stateSucceeded, evSucceed),
			statemachine.WithTransition(from, stateFailed, evFail),
			statemachine.WithTransition(from, stateTimedOut, evTimeout),
		)
	}
	return statemachine.MustNew(stateIdle, opts...)
}

// storeClockSkew is how far before the request a store-reported purchase
// time may lie and still count as this purchase.
const storeClockSkew = 5 * time.Second

// pendingPurchase tracks the single in-flight purchase.
type pendingPurchase struct {
	productID   string
	attemptID   string
	requestedAt time.Time
	known       map[string]struct{}
	lifecycle   statemachine.StateMachine
	promise     *async.Promise[PurchaseResult]
}

// matches reports whether pur completes this purchase. Receipts that were
// already in the history when the purchase started never do, and neither
// do purchases made before the request, such as history replayed as events.
func (p *pendingPurchase) matches(pur iap.Purchase) bool {
	if pur.ProductID != p.productID || pur.IsCancelled || pur.ReceiptID == "" {
		return false
	}
	if pur.PurchaseTime.IsZero() || pur.PurchaseTime.Before(p.requestedAt.Add(-storeClockSkew)) {
		return false
	}
	_, seen := p.known[pur.ReceiptID]
	return !seen
}

// Purchase buys productID and blocks until the first of: a purchase event,
// an error event, a history poll finding the new receipt, the hard timeout,
// ctx cancellation. On success the status is granted immediately and the
// receipt is validated in the background; a validation failure is logged
// and never revokes the purchase.
//
// Only one purchase may be pending; a second call fails with
// ErrPurchaseInProgress.
func (e *Engine) Purchase(ctx context.Context, productID string) PurchaseResult {
	if err := e.ready(); err != nil {
		return failed(err)
	}
	if e.purchasePending() {
		return failed(ErrPurchaseInProgress)
	}

	if !e.hasProduct(productID) {
		if len(e.Products()) == 0 {
			if _, err := e.LoadProducts(ctx, e.catalog.SKUs()); err != nil {
				e.log.WarnContext(ctx, "catalog reload before purchase failed", logger.Error(err))
			}
		}
		if !e.hasProduct(productID) {
			return failed(fmt.Errorf("%w: %s", ErrProductNotFound, productID))
		}
	}
	if e.catalog.TierFor(productID) == TierFree {
		return failed(fmt.Errorf("%w: %s", ErrProductNotFound, productID))
	}

	p := &pendingPurchase{
		productID: productID,
		attemptID: uuid.NewString(),
		lifecycle: newPurchaseLifecycle(e.log),
		promise:   async.NewPromise[PurchaseResult](),
	}
	ctx = logger.WithPurchaseAttempt(ctx, p.attemptID)
	p.known = e.knownReceipts(ctx)
	p.requestedAt = time.Now()

	// Leave idle before the listeners can see the purchase.
	if err := p.lifecycle.Fire(ctx, evRequest, nil); err != nil {
		e.log.ErrorContext(ctx, "purchase lifecycle rejected request", logger.Error(err))
		return failed(fmt.Errorf("%w: %w", ErrPurchaseFailed, err))
	}

	e.mu.Lock()
	if e.pending != nil {
		e.mu.Unlock()
		return failed(ErrPurchaseInProgress)
	}
	e.pending = p
	e.mu.Unlock()

	e.log.InfoContext(ctx, "purchase started", logger.ProductID(productID))
	e.analytics.Track(ctx, analytics.PurchaseStarted, analytics.Props{"product_id": productID})

	if err := e.bridge.RequestSubscription(ctx, productID); err != nil {
		e.settle(ctx, p, evFail, nil, fmt.Errorf("%w: %w", ErrPurchaseFailed, err))
	} else {
		// Fails harmlessly when an event already resolved the purchase.
		_ = p.lifecycle.Fire(ctx, evSent, nil)
	}

	return e.await(ctx, p)
}

// await drives the polling and timeout timers until p resolves. Every exit
// path stops the timers.
func (e *Engine) await(ctx context.Context, p *pendingPurchase) PurchaseResult {
	fut := p.promise.Future()

	early := time.NewTimer(e.pollEarly)
	defer early.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.purchaseTimeout)
	defer deadline.Stop()

	polls := 0
	for {
		select {
		case <-fut.Done():
		case <-early.C:
			e.poll(ctx, p, 0)
			continue
		case <-ticker.C:
			if polls >= e.pollAttempts {
				ticker.Stop()
				continue
			}
			polls++
			e.poll(ctx, p, polls)
			continue
		case <-deadline.C:
			e.settle(ctx, p, evTimeout, nil, fmt.Errorf("purchase timed out: %w", ErrTimeout))
		case <-ctx.Done():
			e.settle(context.WithoutCancel(ctx), p, evFail, nil, ctx.Err())
		case <-e.bg.Done():
			e.settle(context.WithoutCancel(ctx), p, evFail, nil, ErrEngineClosed)
		}

		// Whoever claimed the lifecycle resolves the promise.
		res, _ := fut.Await()
		return res
	}
}

// poll looks for the new receipt in the purchase history, covering devices
// that never deliver the purchase event.
func (e *Engine) poll(ctx context.Context, p *pendingPurchase, attempt int) {
	purchases, err := e.bridge.GetAvailablePurchases(ctx)
	if err != nil {
		e.log.DebugContext(ctx, "purchase poll failed", logger.Attempt(attempt), logger.Error(err))
		return
	}
	for _, pur := range purchases {
		if p.matches(pur) {
			e.log.InfoContext(ctx, "purchase found by polling", logger.Attempt(attempt), logger.ReceiptID(pur.ReceiptID))
			e.settle(ctx, p, evSucceed, &pur, nil)
			return
		}
	}
}

// settle resolves p exactly once. The caller that moves the lifecycle into a
// terminal state applies the side effects; everyone else gets false.
func (e *Engine) settle(ctx context.Context, p *pendingPurchase, ev statemachine.Event, pur *iap.Purchase, cause error) bool {
	if err := p.lifecycle.Fire(ctx, ev, nil); err != nil {
		return false
	}
	ctx = logger.WithPurchaseAttempt(ctx, p.attemptID)

	e.mu.Lock()
	if e.pending == p {
		e.pending = nil
	}
	e.mu.Unlock()

	if pur == nil {
		props := analytics.Props{"product_id": p.productID, "reason": errorText(cause)}
		if errors.Is(cause, ErrPurchaseCancelled) {
			e.log.InfoContext(ctx, "purchase cancelled by user", logger.ProductID(p.productID))
			e.analytics.Track(ctx, analytics.PurchaseCancelled, props)
		} else {
			e.log.WarnContext(ctx, "purchase failed", logger.ProductID(p.productID), logger.Error(cause))
			e.analytics.Track(ctx, analytics.PurchaseFailed, props)
		}
		p.promise.Resolve(failed(cause))
		return true
	}

	st := SubscribedStatus(e.catalog.TierFor(p.productID), pur.ReceiptID)
	st.IsTrialPeriod = pur.IsTrial
	st.AutoRenewing = pur.AutoRenewing
	e.setStatus(ctx, st)

	e.log.InfoContext(ctx, "purchase succeeded", logger.ProductID(p.productID), logger.ReceiptID(pur.ReceiptID))
	e.analytics.Track(ctx, analytics.PurchaseSucceeded, analytics.Props{
		"product_id": p.productID,
		"receipt_id": pur.ReceiptID,
		"trial":      pur.IsTrial,
	})

	confirmed := *pur
	e.background(func(ctx context.Context) { e.reconcile(ctx, confirmed) })

	p.promise.Resolve(PurchaseResult{Success: true, ReceiptID: pur.ReceiptID, IsTrialPeriod: pur.IsTrial})
	return true
}

func (e *Engine) purchasePending() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending != nil
}

func (e *Engine) hasProduct(productID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.products {
		if p.ProductID == productID {
			return true
		}
	}
	return false
}

// knownReceipts snapshots the receipts that exist before a purchase request.
func (e *Engine) knownReceipts(ctx context.Context) map[string]struct{} {
	known := make(map[string]struct{})
	if id := e.Status().ReceiptID; id != "" {
		known[id] = struct{}{}
	}
	purchases, err := e.bridge.GetAvailablePurchases(ctx)
	if err != nil {
		e.log.DebugContext(ctx, "purchase history unavailable before purchase", logger.Error(err))
	}
	for _, pur := range purchases {
		if pur.ReceiptID != "" {
			known[pur.ReceiptID] = struct{}{}
		}
	}
	return known
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
