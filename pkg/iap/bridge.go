package iap

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/paywall/pkg/broadcast"
	"github.com/dmitrymomot/paywall/pkg/logger"
)

// Emitter delivers native events to the bridge.
type Emitter func(Event)

// NativeModule is the platform purchase SDK. Request methods only start the
// work; their outcomes arrive through the Emitter installed with SetEmitter.
type NativeModule interface {
	InitConnection(ctx context.Context) (string, error)
	GetSubscriptions(ctx context.Context, skus []string) error
	RequestSubscription(ctx context.Context, sku string) error
	GetAvailablePurchases(ctx context.Context) ([]Purchase, error)
	EndConnection(ctx context.Context) error
	SetEmitter(Emitter)
}

// Resolver looks up the native module. It returns ErrNativeModuleUnavailable
// (or another error) on platforms without one.
type Resolver func() (NativeModule, error)

// Static returns a Resolver that always yields m.
func Static(m NativeModule) Resolver {
	return func() (NativeModule, error) {
		if m == nil {
			return nil, ErrNativeModuleUnavailable
		}
		return m, nil
	}
}

// Unsupported is the Resolver for platforms without in-app purchases.
func Unsupported() (NativeModule, error) {
	return nil, ErrNativeModuleUnavailable
}

// Bridge isolates callers from the native module's calling convention.
// The module is resolved lazily on first use; until it resolves every call
// fails with ErrNativeModuleUnavailable.
type Bridge struct {
	resolve Resolver
	log     *slog.Logger

	mu     sync.Mutex
	module NativeModule
	closed bool

	events *broadcast.MemoryBroadcaster[Event]
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithEventBuffer sets the per-listener event buffer.
func WithEventBuffer(n int) BridgeOption {
	return func(b *Bridge) {
		b.events = broadcast.NewMemoryBroadcaster[Event](n)
	}
}

func NewBridge(resolve Resolver, opts ...BridgeOption) *Bridge {
	if resolve == nil {
		resolve = Unsupported
	}
	b := &Bridge{
		resolve: resolve,
		log:     slog.Default(),
		events:  broadcast.NewMemoryBroadcaster[Event](64),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(logger.Component("iap"))
	return b
}

// Available reports whether the native module can be resolved.
func (b *Bridge) Available() bool {
	_, err := b.native()
	return err == nil
}

func (b *Bridge) native() (NativeModule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBridgeClosed
	}
	if b.module != nil {
		return b.module, nil
	}

	m, err := b.resolve()
	if err != nil {
		return nil, errors.Join(ErrNativeModuleUnavailable, err)
	}
	if m == nil {
		return nil, ErrNativeModuleUnavailable
	}
	m.SetEmitter(b.emit)
	b.module = m
	return m, nil
}

func (b *Bridge) InitConnection(ctx context.Context) (string, error) {
	m, err := b.native()
	if err != nil {
		return "", err
	}
	return m.InitConnection(ctx)
}

// GetSubscriptions asks for catalog entries; they arrive as a ProductsLoaded event.
func (b *Bridge) GetSubscriptions(ctx context.Context, skus []string) error {
	m, err := b.native()
	if err != nil {
		return err
	}
	return m.GetSubscriptions(ctx, skus)
}

// RequestSubscription opens the purchase flow; the outcome arrives as a
// PurchaseUpdated or PurchaseErrored event.
func (b *Bridge) RequestSubscription(ctx context.Context, sku string) error {
	m, err := b.native()
	if err != nil {
		return err
	}
	return m.RequestSubscription(ctx, sku)
}

func (b *Bridge) GetAvailablePurchases(ctx context.Context) ([]Purchase, error) {
	m, err := b.native()
	if err != nil {
		return nil, err
	}
	return m.GetAvailablePurchases(ctx)
}

func (b *Bridge) EndConnection(ctx context.Context) error {
	m, err := b.native()
	if err != nil {
		return err
	}
	return m.EndConnection(ctx)
}

// Listen calls fn for every event of the given kind. The listener is
// registered before Listen returns.
func (b *Bridge) Listen(ctx context.Context, kind EventKind, fn func(Event)) (stop func()) {
	return broadcast.Listen[Event](ctx, b.events, func(e Event) {
		if e.Kind == kind {
			fn(e)
		}
	})
}

// Close stops event delivery and ends all listeners. The native connection
// is not touched; call EndConnection for that.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.events.Close()
}

func (b *Bridge) emit(e Event) {
	if err := b.events.Broadcast(context.Background(), broadcast.Message[Event]{Data: e}); err != nil {
		b.log.Debug("native event dropped", logger.Event(string(e.Kind)), logger.Error(err))
	}
}
