package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// vendorResponse is the subset of the Amazon RVS payload the validator reads.
// Dates are epoch milliseconds.
type vendorResponse struct {
	ReceiptID        string `json:"receiptId"`
	ProductID        string `json:"productId"`
	PurchaseDate     *int64 `json:"purchaseDate"`
	CancelDate       *int64 `json:"cancelDate"`
	RenewalDate      *int64 `json:"renewalDate"`
	FreeTrialEndDate *int64 `json:"freeTrialEndDate"`
	AutoRenewing     bool   `json:"autoRenewing"`
	TestTransaction  bool   `json:"testTransaction"`
}

var vendorCodes = map[int]struct {
	code   Code
	reason string
}{
	http.StatusBadRequest:          {CodeInvalidFormat, "invalid receipt format"},
	496:                            {CodeCancelled, "receipt cancelled or expired"},
	497:                            {CodeNotFound, "receipt not found"},
	http.StatusInternalServerError: {CodeServerError, "receipt verification service error"},
}

// validateVendor asks the vendor verification service directly. Mapped
// status codes come back as a Result; only transport failures are errors.
func (v *Validator) validateVendor(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}

	if v.cfg.VendorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.VendorTimeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/developer/%s/user/%s/receiptId/%s",
		strings.TrimRight(v.cfg.VendorURL, "/"),
		url.PathEscape(v.cfg.DeveloperID),
		url.PathEscape(req.UserID),
		url.PathEscape(req.ReceiptID),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("receipt: build vendor request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if v.cfg.AccessToken != "" {
		httpReq.Header.Set("x-amz-access-token", v.cfg.AccessToken)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		if m, ok := vendorCodes[resp.StatusCode]; ok {
			res := rejected(m.code, m.reason)
			res.Source = SourceVendor
			return res, nil
		}
		res := rejected(CodeUnknown, fmt.Sprintf("unexpected vendor status %d", resp.StatusCode))
		res.Source = SourceVendor
		return res, nil
	}

	var out vendorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	now := v.now()
	res := &Result{
		IsValid:      true,
		ReceiptID:    out.ReceiptID,
		ProductID:    out.ProductID,
		PurchaseDate: millis(out.PurchaseDate),
		RenewalDate:  millis(out.RenewalDate),
		AutoRenewing: out.AutoRenewing,
		Source:       SourceVendor,
	}
	res.ExpirationDate = res.RenewalDate
	if cancelled := millis(out.CancelDate); cancelled != nil {
		res.ExpirationDate = cancelled
		res.AutoRenewing = false
		if !cancelled.After(now) {
			res.IsValid = false
			res.Code = CodeCancelled
			res.Reason = "receipt cancelled or expired"
		}
	}
	if trialEnd := millis(out.FreeTrialEndDate); trialEnd != nil {
		res.IsTrialPeriod = trialEnd.After(now)
	}
	return res, nil
}

func millis(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
