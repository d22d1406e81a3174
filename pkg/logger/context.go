package logger

import (
	"context"
	"log/slog"
)

type attemptKey struct{}

// WithPurchaseAttempt stores a purchase attempt id in ctx so every record
// logged with that context can be correlated.
func WithPurchaseAttempt(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptKey{}, id)
}

// PurchaseAttemptFromContext returns the attempt id stored by WithPurchaseAttempt.
func PurchaseAttemptFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(attemptKey{}).(string)
	return id, ok && id != ""
}

// PurchaseAttemptExtractor injects the attempt id under "purchase_attempt".
func PurchaseAttemptExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := PurchaseAttemptFromContext(ctx); ok {
			return slog.String("purchase_attempt", id), true
		}
		return slog.Attr{}, false
	}
}
