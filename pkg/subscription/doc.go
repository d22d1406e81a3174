// Package subscription is the in-app subscription engine: it owns the
// user's subscription status, drives purchases through the native purchase
// bridge, validates receipts and persists the result.
//
// # Architecture
//
//   - Engine: the single source of truth. Create one per process with New
//     and share it.
//   - PurchaseBridge: the native store API (*iap.Bridge). Request methods
//     only start work; results arrive as events.
//   - ReceiptValidator: server-side receipt confirmation (*receipt.Validator).
//   - kvstore.Store: durable storage for the status under the
//     "subscription" namespace.
//   - Catalog: the plans on sale, with fallback prices.
//
// # Status
//
// Status is an immutable snapshot. Tier is TierFree exactly when
// IsSubscribed is false. New hydrates the persisted status before any
// bridge call, so the UI can render the last known state immediately.
//
// # Purchases
//
// Purchase blocks until the first of four completion sources fires:
//
//   - a purchase-updated event for a new receipt of the product,
//   - a purchase-error event (user cancellation maps to ErrPurchaseCancelled),
//   - a history poll finding the new receipt (after 2s, then every 5s,
//     12 times) for devices that drop the event,
//   - the 90s hard timeout.
//
// A per-purchase state machine with terminal resolved states makes the
// first source win; the others are no-ops. On success the status is
// granted at once and the receipt is validated in the background. A failed
// validation is logged and never revokes a purchase the store confirmed.
//
// Only one purchase may be pending at a time; a concurrent call returns
// ErrPurchaseInProgress.
//
// # Usage
//
//	bridge := iap.NewBridge(resolver)
//	validator := receipt.New(receiptCfg)
//	engine := subscription.New(ctx, bridge, validator, store,
//		subscription.WithLogger(log),
//		subscription.WithAnalytics(sink),
//	)
//	defer engine.Close(ctx)
//
//	if !engine.Init(ctx) {
//		// hide purchase buttons if !engine.IsAvailable()
//	}
//
//	res := engine.Purchase(ctx, "sub_monthly")
//	if !res.Success && !res.Cancelled() {
//		showError(res.Message())
//	}
//
//	stop := engine.StartVerification(ctx, tracker)
//	defer stop()
//
// # Errors
//
// Operations return expected failures as values: PurchaseResult.Err for
// purchases and restores, the unchanged status for checks. The sentinels
// are ErrUnavailable, ErrNotInitialized, ErrTimeout, ErrPurchaseCancelled,
// ErrPurchaseFailed, ErrValidationFailed, ErrPurchaseInProgress,
// ErrProductNotFound and ErrNoActiveSubscription.
package subscription
