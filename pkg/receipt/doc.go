// Package receipt validates purchase receipts.
//
// Validate tries the validation backend first (POST with retries, backoff
// and a circuit breaker). When the backend fails, is unreachable or answers
// with a non-2xx status, it falls back to the vendor's verification service.
// Vendor status codes 400, 496, 497 and 500 map to CodeInvalidFormat,
// CodeCancelled, CodeNotFound and CodeServerError. With neither service
// configured, development builds accept every receipt and other environments
// fail with ErrNotConfigured.
//
// Valid results are cached for a short TTL keyed by receipt and product.
package receipt
