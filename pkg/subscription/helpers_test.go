package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
	"github.com/dmitrymomot/paywall/pkg/subscription"
)

const (
	monthlySKU   = "sub_monthly"
	quarterlySKU = "sub_quarterly"
)

var testProducts = []iap.Product{
	{ProductID: monthlySKU, Title: "Monthly", Price: "4.99", Currency: "USD", LocalizedPrice: "$4.99", SubscriptionPeriod: "P1M", FreeTrialPeriod: "P7D"},
	{ProductID: quarterlySKU, Title: "Quarterly", Price: "11.99", Currency: "USD", LocalizedPrice: "$11.99", SubscriptionPeriod: "P3M", FreeTrialPeriod: "P7D"},
}

type validateFunc func(receipt.Request) (*receipt.Result, error)

// stubValidator answers with fn and records every request.
type stubValidator struct {
	mu    sync.Mutex
	fn    validateFunc
	calls []receipt.Request
}

func (v *stubValidator) Validate(_ context.Context, req receipt.Request) (*receipt.Result, error) {
	v.mu.Lock()
	v.calls = append(v.calls, req)
	fn := v.fn
	v.mu.Unlock()

	if fn == nil {
		fn = validUntil(time.Now().Add(30*24*time.Hour), false)
	}
	return fn(req)
}

func (v *stubValidator) set(fn validateFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fn = fn
}

func (v *stubValidator) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func validUntil(exp time.Time, trial bool) validateFunc {
	return func(req receipt.Request) (*receipt.Result, error) {
		e := exp
		return &receipt.Result{
			IsValid:        true,
			ReceiptID:      req.ReceiptID,
			ProductID:      req.ProductID,
			ExpirationDate: &e,
			IsTrialPeriod:  trial,
			AutoRenewing:   true,
			Source:         receipt.SourceBackend,
		}, nil
	}
}

func rejectAll(receipt.Request) (*receipt.Result, error) {
	return &receipt.Result{Code: receipt.CodeCancelled, Reason: "receipt cancelled or expired", Source: receipt.SourceVendor}, nil
}

func unreachable(receipt.Request) (*receipt.Result, error) {
	return nil, receipt.ErrNetwork
}

// tap is a sandbox that also lets the test emit arbitrary native events.
type tap struct {
	*iap.Sandbox

	mu   sync.Mutex
	emit iap.Emitter
}

func (t *tap) SetEmitter(e iap.Emitter) {
	t.mu.Lock()
	t.emit = e
	t.mu.Unlock()
	t.Sandbox.SetEmitter(e)
}

func (t *tap) Emit(ev iap.Event) {
	t.mu.Lock()
	emit := t.emit
	t.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Track(_ context.Context, name string, _ analytics.Props) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recorder) count(names ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		for _, name := range names {
			if e == name {
				n++
			}
		}
	}
	return n
}

type harness struct {
	sb        *iap.Sandbox
	tap       *tap
	bridge    *iap.Bridge
	store     kvstore.Store
	validator *stubValidator
	sink      *recorder
	engine    *subscription.Engine
}

func fastTimings() []subscription.Option {
	return []subscription.Option{
		subscription.WithLogger(logger.Discard()),
		subscription.WithPollSchedule(20*time.Millisecond, 50*time.Millisecond, 12),
		subscription.WithPurchaseTimeout(2 * time.Second),
		subscription.WithCatalogTimeout(200 * time.Millisecond),
		subscription.WithStatusWindow(30 * time.Millisecond),
	}
}

func buildHarness(sbOpts []iap.SandboxOption, opts ...subscription.Option) *harness {
	h := &harness{
		store:     kvstore.NewMemory(),
		validator: &stubValidator{},
		sink:      &recorder{},
	}
	h.sb = iap.NewSandbox(append([]iap.SandboxOption{iap.WithProducts(testProducts...)}, sbOpts...)...)
	h.tap = &tap{Sandbox: h.sb}
	h.bridge = iap.NewBridge(iap.Static(h.tap), iap.WithLogger(logger.Discard()))
	h.engine = h.newEngine(opts...)
	return h
}

func newHarness(t *testing.T, sbOpts []iap.SandboxOption, opts ...subscription.Option) *harness {
	t.Helper()
	h := buildHarness(sbOpts, opts...)
	t.Cleanup(h.close)
	return h
}

// newEngine builds another engine over the same bridge, store and validator.
func (h *harness) newEngine(opts ...subscription.Option) *subscription.Engine {
	all := append(fastTimings(), subscription.WithAnalytics(h.sink))
	return subscription.New(context.Background(), h.bridge, h.validator, h.store, append(all, opts...)...)
}

func (h *harness) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.engine.Close(ctx)
	_ = h.bridge.Close()
}

func (h *harness) init(t require.TestingT) {
	require.True(t, h.engine.Init(context.Background()))
}

// purchaseAsync starts a purchase and waits until the store has the request.
func (h *harness) purchaseAsync(t require.TestingT, ctx context.Context, sku string) <-chan subscription.PurchaseResult {
	ch := make(chan subscription.PurchaseResult, 1)
	go func() { ch <- h.engine.Purchase(ctx, sku) }()
	require.Eventually(t, func() bool { return len(h.sb.Pending()) > 0 }, time.Second, time.Millisecond)
	return ch
}

func wait(t require.TestingT, ch <-chan subscription.PurchaseResult) subscription.PurchaseResult {
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		require.Fail(t, "purchase did not resolve")
		return subscription.PurchaseResult{}
	}
}
