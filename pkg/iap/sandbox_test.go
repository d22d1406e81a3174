package iap_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/iap"
)

func connected(t *testing.T, opts ...iap.SandboxOption) *iap.Sandbox {
	t.Helper()
	sb := iap.NewSandbox(append([]iap.SandboxOption{iap.WithProducts(testProducts...)}, opts...)...)
	_, err := sb.InitConnection(context.Background())
	require.NoError(t, err)
	return sb
}

func TestSandbox_AutoOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome iap.Outcome
		kind    iap.EventKind
	}{
		{"success", iap.OutcomeSuccess, iap.PurchaseUpdated},
		{"cancel", iap.OutcomeCancel, iap.PurchaseErrored},
		{"fail", iap.OutcomeFail, iap.PurchaseErrored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sb := connected(t, iap.WithAutoOutcome(tt.outcome, 10*time.Millisecond))

			var got atomic.Value
			sb.SetEmitter(func(e iap.Event) { got.Store(e) })

			require.NoError(t, sb.RequestSubscription(context.Background(), "sub_monthly"))
			require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
			assert.Equal(t, tt.kind, got.Load().(iap.Event).Kind)
			assert.Empty(t, sb.Pending())
		})
	}
}

func TestSandbox_DroppedEvents(t *testing.T) {
	t.Parallel()

	sb := connected(t, iap.WithDroppedEvents())
	var emitted atomic.Int32
	sb.SetEmitter(func(iap.Event) { emitted.Add(1) })

	require.NoError(t, sb.RequestSubscription(context.Background(), "sub_quarterly"))
	_, err := sb.Complete("sub_quarterly")
	require.NoError(t, err)

	assert.Equal(t, int32(0), emitted.Load())
	history, err := sb.GetAvailablePurchases(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSandbox_HistoryByEvent(t *testing.T) {
	t.Parallel()

	sb := connected(t, iap.WithHistoryByEvent(), iap.WithHistory(iap.Purchase{ProductID: "sub_monthly", ReceiptID: "tok-old"}))
	var got atomic.Value
	sb.SetEmitter(func(e iap.Event) { got.Store(e) })

	history, err := sb.GetAvailablePurchases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
	require.NotNil(t, got.Load())
	assert.Equal(t, "tok-old", got.Load().(iap.Event).Purchase.ReceiptID)
}

func TestSandbox_CatalogQuirks(t *testing.T) {
	t.Parallel()

	t.Run("corrupt price", func(t *testing.T) {
		t.Parallel()
		sb := connected(t, iap.WithCorruptPrice("sub_monthly", "Ã¢Â‚Â¬"))
		var got atomic.Value
		sb.SetEmitter(func(e iap.Event) { got.Store(e) })

		require.NoError(t, sb.GetSubscriptions(context.Background(), []string{"sub_monthly"}))
		ev := got.Load().(iap.Event)
		require.Len(t, ev.Products, 1)
		assert.Equal(t, "Ã¢Â‚Â¬", ev.Products[0].LocalizedPrice)
	})

	t.Run("silent catalog", func(t *testing.T) {
		t.Parallel()
		sb := connected(t, iap.WithSilentCatalog())
		var emitted atomic.Int32
		sb.SetEmitter(func(iap.Event) { emitted.Add(1) })

		require.NoError(t, sb.GetSubscriptions(context.Background(), []string{"sub_monthly"}))
		assert.Equal(t, int32(0), emitted.Load())
	})
}

func TestSandbox_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sb := iap.NewSandbox(iap.WithProducts(testProducts...))
	assert.ErrorIs(t, sb.RequestSubscription(ctx, "sub_monthly"), iap.ErrNotConnected)
	assert.ErrorIs(t, sb.GetSubscriptions(ctx, nil), iap.ErrNotConnected)

	_, err := sb.InitConnection(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, sb.RequestSubscription(ctx, "sub_weekly"), iap.ErrUnknownProduct)
	_, err = sb.Complete("sub_monthly")
	assert.ErrorIs(t, err, iap.ErrNothingPending)
	assert.ErrorIs(t, sb.Fail("sub_monthly", "E", "x"), iap.ErrNothingPending)

	assert.Equal(t, 1, sb.Calls("InitConnection"))
	assert.Equal(t, 2, sb.Calls("RequestSubscription"))

	bad := iap.NewSandbox(iap.WithInitResult("billing_unavailable", nil))
	res, err := bad.InitConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "billing_unavailable", res)
	assert.ErrorIs(t, bad.GetSubscriptions(ctx, nil), iap.ErrNotConnected)
}

func TestSandbox_History(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seeded := iap.Purchase{ProductID: "sub_monthly", ReceiptID: "tok-0"}
	sb := connected(t, iap.WithHistory(seeded))
	require.NoError(t, sb.RequestSubscription(ctx, "sub_quarterly"))
	pur, err := sb.CompleteWithReceipt("sub_quarterly", "tok-1")
	require.NoError(t, err)

	history := sb.History()
	require.Len(t, history, 2)
	assert.Equal(t, seeded, history[0])
	assert.Equal(t, pur, history[1])

	// The copy is detached from the sandbox.
	history[0].ReceiptID = "changed"
	assert.Equal(t, "tok-0", sb.History()[0].ReceiptID)

	sb.ClearHistory()
	assert.Empty(t, sb.History())
}
