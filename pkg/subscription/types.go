package subscription

import (
	"errors"

	"github.com/dmitrymomot/paywall/pkg/iap"
)

// Tier is the subscription level granted by a product.
type Tier string

const (
	TierFree      Tier = "free"
	TierMonthly   Tier = "monthly"
	TierQuarterly Tier = "quarterly"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierMonthly, TierQuarterly:
		return true
	default:
		return false
	}
}

// Product is a catalog entry as shown to the user.
type Product = iap.Product

// PurchaseResult is the outcome of one purchase or restore attempt.
// Expected failures are carried in Err; the engine never returns them as
// a separate error value.
type PurchaseResult struct {
	Success       bool
	Err           error
	ReceiptID     string
	IsTrialPeriod bool
}

// Cancelled reports whether the user closed the purchase dialog.
func (r PurchaseResult) Cancelled() bool {
	return errors.Is(r.Err, ErrPurchaseCancelled)
}

// Message returns the text to show to the user, or "" on success.
func (r PurchaseResult) Message() string {
	switch {
	case r.Success:
		return ""
	case r.Cancelled():
		return "Purchase cancelled"
	case r.Err != nil:
		return r.Err.Error()
	default:
		return "Purchase failed"
	}
}

func failed(err error) PurchaseResult {
	return PurchaseResult{Err: err}
}
