package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/paywall/pkg/kvstore"
)

// Keys under the "subscription" namespace.
const (
	storeNamespace = "subscription"

	keyStatus       = "status"
	keyIsSubscribed = "isSubscribed"
	keyReceiptID    = "receiptId"
	keyLastVerified = "lastVerified"
)

// statusStore persists the engine's status. Writes are last-writer-wins;
// the engine is the only writer of its namespace.
type statusStore struct {
	kv kvstore.Store
}

func newStatusStore(kv kvstore.Store) statusStore {
	return statusStore{kv: kvstore.Namespace(kv, storeNamespace)}
}

// load returns the persisted status. A missing JSON blob falls back to the
// legacy isSubscribed/receiptId keys, which carry no tier and map to monthly.
func (s statusStore) load(ctx context.Context) (Status, error) {
	st, err := kvstore.GetJSON[Status](ctx, s.kv, keyStatus)
	if err == nil {
		if err := st.Validate(); err != nil {
			return FreeStatus(), err
		}
		return st, nil
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		return FreeStatus(), err
	}

	subscribed, err := kvstore.GetBool(ctx, s.kv, keyIsSubscribed)
	if errors.Is(err, kvstore.ErrNotFound) || (err == nil && !subscribed) {
		return FreeStatus(), nil
	}
	if err != nil {
		return FreeStatus(), err
	}
	receiptID, err := kvstore.GetString(ctx, s.kv, keyReceiptID)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return FreeStatus(), err
	}
	return SubscribedStatus(TierMonthly, receiptID), nil
}

func (s statusStore) save(ctx context.Context, st Status) error {
	errs := []error{
		kvstore.SetJSON(ctx, s.kv, keyStatus, st),
		kvstore.SetBool(ctx, s.kv, keyIsSubscribed, st.IsSubscribed),
	}
	if st.ReceiptID != "" {
		errs = append(errs, kvstore.SetString(ctx, s.kv, keyReceiptID, st.ReceiptID))
	} else if err := s.kv.Delete(ctx, keyReceiptID); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s statusStore) lastVerified(ctx context.Context) (time.Time, error) {
	return kvstore.GetTime(ctx, s.kv, keyLastVerified)
}

func (s statusStore) markVerified(ctx context.Context, t time.Time) error {
	return kvstore.SetTime(ctx, s.kv, keyLastVerified, t)
}
