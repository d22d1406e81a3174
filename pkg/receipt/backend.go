package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrymomot/paywall/pkg/logger"
)

type backendRequest struct {
	ReceiptID string `json:"receiptId"`
	ProductID string `json:"productId"`
	UserID    string `json:"userId,omitempty"`
	Platform  string `json:"platform"`
	IsSandbox bool   `json:"isSandbox"`
}

type backendResponse struct {
	IsValid        bool       `json:"isValid"`
	ReceiptID      string     `json:"receiptId,omitempty"`
	ProductID      string     `json:"productId,omitempty"`
	PurchaseDate   *time.Time `json:"purchaseDate,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IsTrialPeriod  bool       `json:"isTrialPeriod,omitempty"`
	AutoRenewing   bool       `json:"autoRenewing,omitempty"`
	RenewalDate    *time.Time `json:"renewalDate,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// validateBackend posts the receipt to the validation backend, retrying
// transport failures and 5xx responses. Any error makes the caller fall back
// to the vendor.
func (v *Validator) validateBackend(ctx context.Context, req Request) (*Result, error) {
	if !v.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	body, err := json.Marshal(backendRequest{
		ReceiptID: req.ReceiptID,
		ProductID: req.ProductID,
		UserID:    req.UserID,
		Platform:  "amazon",
		IsSandbox: v.cfg.Sandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: encode backend request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= max(v.cfg.BackendRetries, 0); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(v.backoff.NextInterval(attempt)):
			}
		}

		res, status, err := v.postBackend(ctx, body)
		if err == nil {
			v.breaker.RecordSuccess()
			return res, nil
		}
		v.breaker.RecordFailure()
		lastErr = err

		v.log.DebugContext(ctx, "backend validation attempt failed",
			logger.Attempt(attempt+1), logger.ReceiptID(req.ReceiptID), logger.Error(err))

		if status >= 400 && status < 500 {
			break
		}
		if !v.breaker.Allow() {
			break
		}
	}
	return nil, lastErr
}

func (v *Validator) postBackend(ctx context.Context, body []byte) (*Result, int, error) {
	if v.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.BackendTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BackendURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("receipt: build backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, resp.StatusCode, fmt.Errorf("%w: %d", ErrBackendStatus, resp.StatusCode)
	}

	var out backendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, resp.StatusCode, errors.Join(ErrInvalidResponse, err)
	}

	res := &Result{
		IsValid:        out.IsValid,
		ReceiptID:      out.ReceiptID,
		ProductID:      out.ProductID,
		PurchaseDate:   out.PurchaseDate,
		ExpirationDate: out.ExpirationDate,
		RenewalDate:    out.RenewalDate,
		IsTrialPeriod:  out.IsTrialPeriod,
		AutoRenewing:   out.AutoRenewing,
		Source:         SourceBackend,
	}
	if !out.IsValid {
		res.Code = CodeRejected
		res.Reason = out.Error
	}
	return res, resp.StatusCode, nil
}
