package receipt_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newValidator(cfg receipt.Config) *receipt.Validator {
	return receipt.New(cfg,
		receipt.WithBackoff(receipt.FixedBackoff(time.Millisecond)),
		receipt.WithLogger(logger.Discard()),
		receipt.WithClock(func() time.Time { return fixedNow }),
	)
}

func req() receipt.Request {
	return receipt.Request{ReceiptID: "tok-1", ProductID: "sub_monthly", UserID: "user-1"}
}

func TestValidate_NotConfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("development is optimistic", func(t *testing.T) {
		t.Parallel()
		res, err := newValidator(receipt.Config{Env: "development"}).Validate(ctx, req())
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.Equal(t, receipt.SourceOptimistic, res.Source)
		assert.Equal(t, "tok-1", res.ReceiptID)
	})

	t.Run("production fails hard", func(t *testing.T) {
		t.Parallel()
		_, err := newValidator(receipt.Config{Env: "production"}).Validate(ctx, req())
		assert.ErrorIs(t, err, receipt.ErrNotConfigured)
	})

	t.Run("empty receipt is invalid format", func(t *testing.T) {
		t.Parallel()
		res, err := newValidator(receipt.Config{Env: "production"}).Validate(ctx, receipt.Request{ProductID: "x"})
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, receipt.CodeInvalidFormat, res.Code)
	})
}

func TestValidate_Backend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	expires := fixedNow.Add(30 * 24 * time.Hour)

	t.Run("valid receipt", func(t *testing.T) {
		t.Parallel()
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"isValid":        true,
				"expirationDate": expires.Format(time.RFC3339),
				"isTrialPeriod":  true,
				"autoRenewing":   true,
			})
		}))
		defer srv.Close()

		res, err := newValidator(receipt.Config{BackendURL: srv.URL, Sandbox: true}).Validate(ctx, req())
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.Equal(t, receipt.SourceBackend, res.Source)
		assert.True(t, res.IsTrialPeriod)
		require.NotNil(t, res.ExpirationDate)
		assert.True(t, res.ExpirationDate.Equal(expires))
		assert.Equal(t, "tok-1", res.ReceiptID)
		assert.Equal(t, "sub_monthly", res.ProductID)

		assert.Equal(t, "tok-1", got["receiptId"])
		assert.Equal(t, "sub_monthly", got["productId"])
		assert.Equal(t, "user-1", got["userId"])
		assert.Equal(t, "amazon", got["platform"])
		assert.Equal(t, true, got["isSandbox"])
	})

	t.Run("rejected receipt", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"isValid":false,"error":"receipt revoked"}`)
		}))
		defer srv.Close()

		res, err := newValidator(receipt.Config{BackendURL: srv.URL}).Validate(ctx, req())
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, receipt.CodeRejected, res.Code)
		assert.Equal(t, "receipt revoked", res.Reason)
		assert.False(t, res.Unverifiable())
	})

	t.Run("retries server errors", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = fmt.Fprint(w, `{"isValid":true}`)
		}))
		defer srv.Close()

		res, err := newValidator(receipt.Config{BackendURL: srv.URL, BackendRetries: 2}).Validate(ctx, req())
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("unreachable without vendor", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newValidator(receipt.Config{BackendURL: url}).Validate(ctx, req())
		assert.ErrorIs(t, err, receipt.ErrNetwork)
	})

	t.Run("valid results are cached", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = fmt.Fprint(w, `{"isValid":true}`)
		}))
		defer srv.Close()

		v := newValidator(receipt.Config{BackendURL: srv.URL, CacheSize: 8, CacheTTL: time.Minute})
		for range 3 {
			res, err := v.Validate(ctx, req())
			require.NoError(t, err)
			assert.True(t, res.IsValid)
		}
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestValidate_VendorFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backendDown := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(backendDown.Close)

	t.Run("vendor result is returned", func(t *testing.T) {
		t.Parallel()
		renewal := fixedNow.Add(7 * 24 * time.Hour).UnixMilli()
		trialEnd := fixedNow.Add(2 * 24 * time.Hour).UnixMilli()

		var path, token string
		vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			token = r.Header.Get("x-amz-access-token")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"receiptId":        "tok-1",
				"productId":        "sub_monthly",
				"renewalDate":      renewal,
				"freeTrialEndDate": trialEnd,
				"cancelDate":       nil,
				"autoRenewing":     true,
			})
		}))
		defer vendor.Close()

		v := newValidator(receipt.Config{
			BackendURL:  backendDown.URL,
			VendorURL:   vendor.URL + "/version/1.0/verifyReceiptId",
			DeveloperID: "dev-secret",
			AccessToken: "access",
		})
		res, err := v.Validate(ctx, req())
		require.NoError(t, err)

		assert.Equal(t, "/version/1.0/verifyReceiptId/developer/dev-secret/user/user-1/receiptId/tok-1", path)
		assert.Equal(t, "access", token)
		assert.True(t, res.IsValid)
		assert.Equal(t, receipt.SourceVendor, res.Source)
		assert.True(t, res.IsTrialPeriod)
		assert.True(t, res.AutoRenewing)
		require.NotNil(t, res.ExpirationDate)
		assert.Equal(t, renewal, res.ExpirationDate.UnixMilli())
		assert.True(t, v.VerifyActive(ctx, req()))
	})

	t.Run("cancelled in the past", func(t *testing.T) {
		t.Parallel()
		cancelled := fixedNow.Add(-time.Hour).UnixMilli()
		vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"receiptId": "tok-1", "cancelDate": cancelled})
		}))
		defer vendor.Close()

		v := newValidator(receipt.Config{VendorURL: vendor.URL, DeveloperID: "d"})
		res, err := v.Validate(ctx, req())
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, receipt.CodeCancelled, res.Code)
		assert.False(t, v.VerifyActive(ctx, req()))
	})

	codes := []struct {
		status    int
		code      receipt.Code
		transient bool
	}{
		{http.StatusBadRequest, receipt.CodeInvalidFormat, false},
		{496, receipt.CodeCancelled, false},
		{497, receipt.CodeNotFound, false},
		{http.StatusInternalServerError, receipt.CodeServerError, true},
		{http.StatusTeapot, receipt.CodeUnknown, true},
	}
	for _, tc := range codes {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			t.Parallel()
			vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer vendor.Close()

			v := newValidator(receipt.Config{BackendURL: backendDown.URL, VendorURL: vendor.URL, DeveloperID: "d"})
			res, err := v.Validate(ctx, req())
			require.NoError(t, err)
			assert.False(t, res.IsValid)
			assert.Equal(t, tc.code, res.Code)
			assert.Equal(t, tc.transient, res.Unverifiable())
			assert.NotEmpty(t, res.Reason)
		})
	}

	t.Run("missing user id", func(t *testing.T) {
		t.Parallel()
		v := newValidator(receipt.Config{BackendURL: backendDown.URL, VendorURL: "http://127.0.0.1:1", DeveloperID: "d"})
		_, err := v.Validate(ctx, receipt.Request{ReceiptID: "tok-1", ProductID: "sub_monthly"})
		assert.ErrorIs(t, err, receipt.ErrNetwork)
		assert.ErrorIs(t, err, receipt.ErrMissingUserID)
	})
}

func TestResult_Active(t *testing.T) {
	t.Parallel()

	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(time.Minute)

	assert.True(t, (&receipt.Result{IsValid: true}).Active(fixedNow))
	assert.True(t, (&receipt.Result{IsValid: true, ExpirationDate: &future}).Active(fixedNow))
	assert.False(t, (&receipt.Result{IsValid: true, ExpirationDate: &past}).Active(fixedNow))
	assert.False(t, (&receipt.Result{IsValid: false}).Active(fixedNow))

	var nilResult *receipt.Result
	assert.False(t, nilResult.Active(fixedNow))
}
