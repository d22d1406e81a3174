package receipt

import "time"

// Code classifies a rejected or unverifiable receipt.
type Code string

const (
	CodeNone          Code = ""
	CodeInvalidFormat Code = "invalid_format"
	CodeCancelled     Code = "cancelled_or_expired"
	CodeNotFound      Code = "not_found"
	CodeServerError   Code = "server_error"
	CodeRejected      Code = "rejected"
	CodeUnknown       Code = "unknown"
)

// Transient reports whether the code means the vendor could not answer,
// as opposed to a verdict about the receipt itself.
func (c Code) Transient() bool {
	return c == CodeServerError || c == CodeUnknown
}

// Source names the link of the chain that produced a Result.
type Source string

const (
	SourceBackend    Source = "backend"
	SourceVendor     Source = "vendor"
	SourceOptimistic Source = "optimistic"
)

// Request identifies the receipt to validate.
type Request struct {
	ReceiptID string
	ProductID string
	UserID    string
}

// Result is the validator's verdict.
type Result struct {
	IsValid        bool
	ReceiptID      string
	ProductID      string
	PurchaseDate   *time.Time
	ExpirationDate *time.Time
	RenewalDate    *time.Time
	IsTrialPeriod  bool
	AutoRenewing   bool
	Code           Code
	Reason         string
	Source         Source
}

// Active reports whether the receipt is valid and not expired at now.
func (r *Result) Active(now time.Time) bool {
	if r == nil || !r.IsValid {
		return false
	}
	return r.ExpirationDate == nil || r.ExpirationDate.After(now)
}

// Unverifiable reports whether the result carries no verdict about the receipt.
func (r *Result) Unverifiable() bool {
	return r != nil && !r.IsValid && r.Code.Transient()
}

func rejected(code Code, reason string) *Result {
	return &Result{IsValid: false, Code: code, Reason: reason}
}

func (r *Result) fill(req Request) {
	if r.ReceiptID == "" {
		r.ReceiptID = req.ReceiptID
	}
	if r.ProductID == "" {
		r.ProductID = req.ProductID
	}
}
