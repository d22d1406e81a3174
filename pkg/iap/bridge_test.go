package iap_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/iap"
)

var testProducts = []iap.Product{
	{ProductID: "sub_monthly", Title: "Monthly", Price: "4.99", Currency: "USD", LocalizedPrice: "$4.99", SubscriptionPeriod: "P1M", FreeTrialPeriod: "P7D"},
	{ProductID: "sub_quarterly", Title: "Quarterly", Price: "11.99", Currency: "USD", LocalizedPrice: "$11.99", SubscriptionPeriod: "P3M", FreeTrialPeriod: "P7D"},
}

type eventLog struct {
	mu     sync.Mutex
	events []iap.Event
}

func (l *eventLog) add(e iap.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) at(i int) iap.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}

func TestBridge_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := iap.NewBridge(iap.Unsupported)
	defer b.Close()

	assert.False(t, b.Available())

	_, err := b.InitConnection(ctx)
	assert.ErrorIs(t, err, iap.ErrNativeModuleUnavailable)
	assert.ErrorIs(t, b.GetSubscriptions(ctx, []string{"x"}), iap.ErrNativeModuleUnavailable)
	assert.ErrorIs(t, b.RequestSubscription(ctx, "x"), iap.ErrNativeModuleUnavailable)
	_, err = b.GetAvailablePurchases(ctx)
	assert.ErrorIs(t, err, iap.ErrNativeModuleUnavailable)
	assert.ErrorIs(t, b.EndConnection(ctx), iap.ErrNativeModuleUnavailable)

	assert.False(t, iap.NewBridge(nil).Available())
	assert.False(t, iap.NewBridge(iap.Static(nil)).Available())
}

func TestBridge_LazyResolve(t *testing.T) {
	t.Parallel()

	calls := 0
	sb := iap.NewSandbox()
	b := iap.NewBridge(func() (iap.NativeModule, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("not loaded yet")
		}
		return sb, nil
	})
	defer b.Close()

	assert.Equal(t, 0, calls)
	assert.False(t, b.Available())
	assert.True(t, b.Available())
	assert.True(t, b.Available())
	assert.Equal(t, 2, calls)
}

func TestBridge_Events(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sb := iap.NewSandbox(iap.WithProducts(testProducts...))
	b := iap.NewBridge(iap.Static(sb))
	defer b.Close()

	var updates, errs, products eventLog
	stopU := b.Listen(ctx, iap.PurchaseUpdated, updates.add)
	defer stopU()
	stopE := b.Listen(ctx, iap.PurchaseErrored, errs.add)
	defer stopE()
	stopP := b.Listen(ctx, iap.ProductsLoaded, products.add)
	defer stopP()

	res, err := b.InitConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, iap.ConnectionConnected, res)

	res, err = b.InitConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, iap.ConnectionAlreadyInitialized, res)

	require.NoError(t, b.GetSubscriptions(ctx, []string{"sub_monthly", "sub_unknown"}))
	require.Eventually(t, func() bool { return products.len() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, products.at(0).Products, 1)
	assert.Equal(t, "sub_monthly", products.at(0).Products[0].ProductID)

	require.NoError(t, b.RequestSubscription(ctx, "sub_monthly"))
	assert.ErrorIs(t, b.RequestSubscription(ctx, "sub_monthly"), iap.ErrPurchasePending)
	p, err := sb.CompleteWithReceipt("sub_monthly", "tok-1")
	require.NoError(t, err)
	assert.True(t, p.IsTrial)

	require.Eventually(t, func() bool { return updates.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "tok-1", updates.at(0).Purchase.ReceiptID)

	require.NoError(t, b.RequestSubscription(ctx, "sub_quarterly"))
	require.NoError(t, sb.Cancel("sub_quarterly"))
	require.Eventually(t, func() bool { return errs.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, errs.at(0).Err.IsCancelled())

	history, err := b.GetAvailablePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "tok-1", history[0].ReceiptID)

	require.NoError(t, b.EndConnection(ctx))
	assert.ErrorIs(t, b.RequestSubscription(ctx, "sub_monthly"), iap.ErrNotConnected)
}

func TestBridge_Close(t *testing.T) {
	t.Parallel()

	b := iap.NewBridge(iap.Static(iap.NewSandbox()))
	require.NoError(t, b.Close())
	assert.False(t, b.Available())
	_, err := b.InitConnection(context.Background())
	assert.ErrorIs(t, err, iap.ErrBridgeClosed)
}

func TestPurchaseError_IsCancelled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *iap.PurchaseError
		want bool
	}{
		{"code", &iap.PurchaseError{Code: iap.CodeUserCancelled}, true},
		{"message", &iap.PurchaseError{Code: "E_UNKNOWN", Message: "User Cancelled the flow"}, true},
		{"failure", &iap.PurchaseError{Code: "E_NETWORK", Message: "network down"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.IsCancelled())
		})
	}

	assert.Equal(t, "E_NETWORK: down", (&iap.PurchaseError{Code: "E_NETWORK", Message: "down"}).Error())
}
