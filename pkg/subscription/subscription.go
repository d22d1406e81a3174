package subscription

import (
	"fmt"
	"time"
)

// Status is an immutable snapshot of the user's subscription. The engine
// replaces it wholesale; Tier is TierFree exactly when IsSubscribed is false.
type Status struct {
	IsSubscribed   bool       `json:"isSubscribed"`
	Tier           Tier       `json:"tier"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IsTrialPeriod  bool       `json:"isTrialPeriod"`
	AutoRenewing   bool       `json:"autoRenewing"`
	ReceiptID      string     `json:"receiptId,omitempty"`
}

// FreeStatus is the status of a user without a subscription.
func FreeStatus() Status {
	return Status{Tier: TierFree}
}

// SubscribedStatus returns a subscribed status for tier backed by receiptID.
// A free or unknown tier yields FreeStatus.
func SubscribedStatus(tier Tier, receiptID string) Status {
	if tier == TierFree || !tier.Valid() {
		return FreeStatus()
	}
	return Status{IsSubscribed: true, Tier: tier, ReceiptID: receiptID}
}

// Validate checks the tier invariant. Used on values read from storage.
func (s Status) Validate() error {
	if !s.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidStatus, s.Tier)
	}
	if s.IsSubscribed == (s.Tier == TierFree) {
		return fmt.Errorf("%w: tier %q with isSubscribed=%t", ErrInvalidStatus, s.Tier, s.IsSubscribed)
	}
	return nil
}

// Expired reports whether a subscribed status has passed its expiration date.
func (s Status) Expired(now time.Time) bool {
	return s.IsSubscribed && s.ExpirationDate != nil && !s.ExpirationDate.After(now)
}

// Equal compares two statuses, treating expiration dates as equal when they
// denote the same instant.
func (s Status) Equal(o Status) bool {
	if s.IsSubscribed != o.IsSubscribed || s.Tier != o.Tier || s.IsTrialPeriod != o.IsTrialPeriod ||
		s.AutoRenewing != o.AutoRenewing || s.ReceiptID != o.ReceiptID {
		return false
	}
	switch {
	case s.ExpirationDate == nil && o.ExpirationDate == nil:
		return true
	case s.ExpirationDate == nil || o.ExpirationDate == nil:
		return false
	default:
		return s.ExpirationDate.Equal(*o.ExpirationDate)
	}
}

// withValidation returns a copy carrying the validator's authoritative dates.
func (s Status) withValidation(expiration *time.Time, trial, autoRenewing bool) Status {
	s.ExpirationDate = expiration
	s.IsTrialPeriod = trial
	s.AutoRenewing = autoRenewing
	return s
}
