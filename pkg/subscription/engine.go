package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/async"
	"github.com/dmitrymomot/paywall/pkg/broadcast"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
)

// PurchaseBridge is the native purchase API the engine drives.
// *iap.Bridge implements it.
type PurchaseBridge interface {
	Available() bool
	InitConnection(ctx context.Context) (string, error)
	GetSubscriptions(ctx context.Context, skus []string) error
	RequestSubscription(ctx context.Context, sku string) error
	GetAvailablePurchases(ctx context.Context) ([]iap.Purchase, error)
	EndConnection(ctx context.Context) error
	Listen(ctx context.Context, kind iap.EventKind, fn func(iap.Event)) (stop func())
}

// ReceiptValidator confirms receipts. *receipt.Validator implements it.
type ReceiptValidator interface {
	Validate(ctx context.Context, req receipt.Request) (*receipt.Result, error)
}

// Registry keys for requests answered by bridge events.
const (
	productsKey = "products"
	historyKey  = "history"
)

// Engine is the single source of truth for the user's subscription. It owns
// the status, the product list and the pending purchase; create one per
// process and share it.
type Engine struct {
	bridge    PurchaseBridge
	validator ReceiptValidator
	store     statusStore
	catalog   Catalog
	log       *slog.Logger
	analytics analytics.Sink
	now       func() time.Time

	pollEarly       time.Duration
	pollInterval    time.Duration
	pollAttempts    int
	purchaseTimeout time.Duration
	catalogTimeout  time.Duration
	statusWindow    time.Duration
	verifyInterval  time.Duration

	initMu  sync.Mutex
	writeMu sync.Mutex

	mu          sync.RWMutex
	unavailable bool
	initialized bool
	closed      bool
	status      Status
	products    []Product
	pending     *pendingPurchase
	listeners   []func()

	requests *async.Registry[string, []Product]
	history  *async.Registry[string, iap.Purchase]
	flight   singleflight.Group
	updates  *broadcast.MemoryBroadcaster[Status]

	bg       context.Context
	cancelBG context.CancelFunc
	wg       sync.WaitGroup
}

// New creates the engine and hydrates the status from store before any
// bridge call. A persisted status that has already expired is replaced by
// the free status.
// Panics if bridge, validator or store is nil.
func New(ctx context.Context, bridge PurchaseBridge, validator ReceiptValidator, store kvstore.Store, opts ...Option) *Engine {
	if bridge == nil {
		panic("subscription: PurchaseBridge is required")
	}
	if validator == nil {
		panic("subscription: ReceiptValidator is required")
	}
	if store == nil {
		panic("subscription: kvstore.Store is required")
	}

	e := &Engine{
		bridge:          bridge,
		validator:       validator,
		store:           newStatusStore(store),
		catalog:         DefaultCatalog(),
		log:             slog.Default(),
		analytics:       analytics.Nop{},
		now:             time.Now,
		pollEarly:       2 * time.Second,
		pollInterval:    5 * time.Second,
		pollAttempts:    12,
		purchaseTimeout: 90 * time.Second,
		catalogTimeout:  10 * time.Second,
		statusWindow:    5 * time.Second,
		verifyInterval:  24 * time.Hour,
		status:          FreeStatus(),
		requests:        async.NewRegistry[string, []Product](),
		history:         async.NewRegistry[string, iap.Purchase](),
		updates:         broadcast.NewMemoryBroadcaster[Status](16),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("subscription"))
	e.bg, e.cancelBG = context.WithCancel(context.WithoutCancel(ctx))

	st, err := e.store.load(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "persisted subscription status unreadable, starting free", logger.Error(err))
	}
	if st.Expired(e.now()) {
		e.log.InfoContext(ctx, "persisted subscription has expired", logger.Tier(string(st.Tier)))
		e.analytics.Track(ctx, analytics.SubscriptionExpired, analytics.Props{"tier": string(st.Tier)})
		st = FreeStatus()
		if err := e.store.save(ctx, st); err != nil {
			e.log.ErrorContext(ctx, "failed to persist subscription status", logger.Error(err))
		}
	}
	e.status = st
	return e
}

// Init opens the store connection. It returns false when the platform has
// no purchase module (the engine then stays unavailable for good) or when
// the connection fails (Init may be called again). On success the catalog
// and the current status are loaded best-effort.
func (e *Engine) Init(ctx context.Context) bool {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.RLock()
	initialized, closed := e.initialized, e.closed
	e.mu.RUnlock()
	if initialized {
		return true
	}
	if closed {
		return false
	}

	if !e.bridge.Available() {
		e.mu.Lock()
		e.unavailable = true
		e.mu.Unlock()
		e.log.InfoContext(ctx, "in-app purchases are not available on this platform")
		return false
	}

	result, err := e.bridge.InitConnection(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "purchase connection failed", logger.Error(err))
		return false
	}
	if result != iap.ConnectionConnected && result != iap.ConnectionAlreadyInitialized {
		e.log.WarnContext(ctx, "unexpected purchase connection result", slog.String("result", result))
		return false
	}

	// Listeners must be in place before the engine reports itself initialized.
	listeners := []func(){
		e.bridge.Listen(e.bg, iap.PurchaseUpdated, e.onPurchaseUpdated),
		e.bridge.Listen(e.bg, iap.PurchaseErrored, e.onPurchaseError),
		e.bridge.Listen(e.bg, iap.ProductsLoaded, e.onProductsLoaded),
	}
	e.mu.Lock()
	e.listeners = listeners
	e.initialized = true
	e.mu.Unlock()

	e.log.InfoContext(ctx, "purchase connection established", slog.String("result", result))

	if _, err := e.LoadProducts(ctx, e.catalog.SKUs()); err != nil {
		e.log.WarnContext(ctx, "initial catalog load failed", logger.Error(err))
	}
	e.CheckSubscriptionStatus(ctx)
	return true
}

// IsAvailable reports false once Init found no purchase module.
func (e *Engine) IsAvailable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.unavailable
}

func (e *Engine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Status returns the current status snapshot.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Products returns the last loaded catalog.
func (e *Engine) Products() []Product {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.products)
}

// Catalog returns the plans the engine sells.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// Watch calls fn with every status that replaces a different one.
// The subscription is registered before Watch returns.
func (e *Engine) Watch(ctx context.Context, fn func(Status)) (stop func()) {
	return broadcast.Listen[Status](ctx, e.updates, fn)
}

// Close stops background work, removes the event listeners and ends the
// store connection. A pending purchase resolves with ErrEngineClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	wasInitialized := e.initialized
	e.initialized = false
	listeners := e.listeners
	e.listeners = nil
	e.mu.Unlock()

	e.cancelBG()
	for _, stop := range listeners {
		stop()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if wasInitialized {
		if err := e.bridge.EndConnection(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.updates.Close(); err != nil && !errors.Is(err, broadcast.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) ready() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch {
	case e.closed:
		return ErrEngineClosed
	case e.unavailable:
		return ErrUnavailable
	case !e.initialized:
		return ErrNotInitialized
	default:
		return nil
	}
}

// setStatus replaces the status, persists it and notifies watchers.
func (e *Engine) setStatus(ctx context.Context, st Status) {
	e.updateStatus(ctx, func(Status) (Status, bool) { return st, true })
}

// updateStatus applies fn to the current status. fn returns false to leave
// it untouched. Writers are serialized so the persisted value always matches
// the last in-memory one.
func (e *Engine) updateStatus(ctx context.Context, fn func(cur Status) (Status, bool)) (Status, bool) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	prev := e.status
	next, ok := fn(prev)
	if !ok {
		e.mu.Unlock()
		return prev, false
	}
	e.status = next
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := e.store.save(ctx, next); err != nil {
		e.log.ErrorContext(ctx, "failed to persist subscription status", logger.Error(err))
	}
	if !prev.Equal(next) {
		e.log.InfoContext(ctx, "subscription status changed",
			logger.Tier(string(next.Tier)), logger.ReceiptID(next.ReceiptID))
		if err := e.updates.Broadcast(ctx, broadcast.Message[Status]{Data: next}); err != nil {
			e.log.DebugContext(ctx, "status update not delivered", logger.Error(err))
		}
	}
	return next, true
}

// background runs fn on the engine's lifetime context. Nothing starts once
// Close has begun.
func (e *Engine) background(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(e.bg)
	}()
}

func (e *Engine) onProductsLoaded(ev iap.Event) {
	if !e.requests.Resolve(productsKey, ev.Products) {
		e.log.Debug("products loaded with no request waiting", slog.Int("count", len(ev.Products)))
	}
}

func (e *Engine) onPurchaseUpdated(ev iap.Event) {
	if ev.Purchase == nil {
		return
	}
	pur := *ev.Purchase

	e.mu.RLock()
	p := e.pending
	e.mu.RUnlock()
	if p != nil && p.matches(pur) {
		e.settle(e.bg, p, evSucceed, &pur, nil)
		return
	}

	if !e.eligible(pur) {
		e.log.Debug("ignoring purchase update", logger.ProductID(pur.ProductID), logger.ReceiptID(pur.ReceiptID))
		return
	}
	if e.history.Resolve(historyKey, pur) {
		return
	}

	// An update nobody asked for, e.g. a purchase finished on another screen.
	// It only matters while the user has no subscription.
	if e.Status().IsSubscribed {
		return
	}
	e.background(func(ctx context.Context) {
		st, err := e.statusFor(ctx, pur)
		if err != nil {
			return
		}
		e.updateStatus(ctx, func(cur Status) (Status, bool) {
			return st, !cur.IsSubscribed
		})
	})
}

func (e *Engine) onPurchaseError(ev iap.Event) {
	pe := ev.Err
	if pe == nil {
		pe = &iap.PurchaseError{Message: "unknown purchase error"}
	}

	e.mu.RLock()
	p := e.pending
	e.mu.RUnlock()
	if p == nil || (pe.ProductID != "" && pe.ProductID != p.productID) {
		e.log.Debug("purchase error with no matching purchase", logger.ProductID(pe.ProductID), logger.Error(pe))
		return
	}

	err := fmt.Errorf("%w: %w", ErrPurchaseFailed, pe)
	if pe.IsCancelled() {
		err = fmt.Errorf("%w: %w", ErrPurchaseCancelled, pe)
	}
	e.settle(e.bg, p, evFail, nil, err)
}

// eligible reports whether pur can back a subscription: not cancelled,
// carries a receipt and is for a product of the catalog.
func (e *Engine) eligible(pur iap.Purchase) bool {
	return !pur.IsCancelled && pur.ReceiptID != "" && e.catalog.TierFor(pur.ProductID) != TierFree
}
