package iap

import (
	"strings"
	"time"
)

// EventKind names one of the native module's event streams.
type EventKind string

const (
	PurchaseUpdated EventKind = "purchaseUpdated"
	PurchaseErrored EventKind = "purchaseError"
	ProductsLoaded  EventKind = "productsLoaded"
)

// Results of InitConnection that mean the store is usable.
const (
	ConnectionConnected          = "connected"
	ConnectionAlreadyInitialized = "already_initialized"
)

// CodeUserCancelled is the error code the store reports when the user closes
// the purchase dialog.
const CodeUserCancelled = "E_USER_CANCELLED"

// Product is a catalog entry returned by the store.
type Product struct {
	ProductID          string `json:"productId"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	Price              string `json:"price"`
	Currency           string `json:"currency"`
	LocalizedPrice     string `json:"localizedPrice"`
	SubscriptionPeriod string `json:"subscriptionPeriod"`
	FreeTrialPeriod    string `json:"freeTrialPeriod,omitempty"`
}

// Purchase is a purchase record as reported by the store, either from an
// update event or from the purchase history.
type Purchase struct {
	ProductID    string    `json:"productId"`
	ReceiptID    string    `json:"receiptId"`
	UserID       string    `json:"userId,omitempty"`
	PurchaseTime time.Time `json:"purchaseTime"`
	IsCancelled  bool      `json:"isCancelled"`
	IsTrial      bool      `json:"isTrial"`
	AutoRenewing bool      `json:"autoRenewing"`
}

// PurchaseError is the payload of a purchase error event.
type PurchaseError struct {
	Code      string
	Message   string
	ProductID string
}

func (e *PurchaseError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// IsCancelled reports whether the error represents the user dismissing the
// purchase dialog.
func (e *PurchaseError) IsCancelled() bool {
	if e == nil {
		return false
	}
	return e.Code == CodeUserCancelled || strings.Contains(strings.ToLower(e.Message), "cancel")
}

// Event is one notification from the native module.
type Event struct {
	Kind     EventKind
	Purchase *Purchase
	Products []Product
	Err      *PurchaseError
}
