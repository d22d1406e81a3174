package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/appstate"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/paywall"
	"github.com/dmitrymomot/paywall/pkg/receipt"
	"github.com/dmitrymomot/paywall/pkg/subscription"
)

const (
	sandboxNamespace  = "sandbox"
	sandboxHistoryKey = "history"
)

// deps is everything a command may use.
type deps struct {
	fx.In

	Log       *slog.Logger
	Store     kvstore.Store
	Catalog   subscription.Catalog
	Sandbox   *iap.Sandbox
	Validator *receipt.Validator
	Engine    *subscription.Engine
	Tracker   *appstate.Tracker
	Policy    *paywall.Policy
	Paywall   *paywall.Controller
}

// module is the paywallctl object graph. The engine is a singleton shared by
// every consumer of the graph.
var module = fx.Module("paywall",
	fx.Provide(
		provideLogger,
		provideAnalytics,
		provideStore,
		subscription.LoadCatalog,
		provideSandbox,
		provideBridge,
		provideValidator,
		provideEngine,
		provideTracker,
		providePolicy,
		provideController,
	),
)

func newApp(cfg Config, out *deps) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(cfg.Log, cfg.Store, cfg.Receipt, cfg.Catalog, cfg.Engine, cfg.Paywall, cfg.Sandbox),
		module,
		fx.Invoke(func(d deps) { *out = d }),
	)
}

func provideLogger(cfg logger.Config) (*slog.Logger, error) {
	return logger.FromConfig(cfg, logger.WithOutput(os.Stderr))
}

func provideAnalytics(lc fx.Lifecycle, log *slog.Logger) analytics.Sink {
	sink := analytics.NewAsync(analytics.NewLogSink(log), 64)
	lc.Append(fx.StopHook(sink.Close))
	return sink
}

func provideStore(lc fx.Lifecycle, cfg kvstore.Config, log *slog.Logger) (kvstore.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := kvstore.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeStore))
	return store, nil
}

// provideSandbox builds the simulated store from the catalog and restores the
// purchase history of earlier runs.
func provideSandbox(lc fx.Lifecycle, cfg SandboxConfig, cat subscription.Catalog, store kvstore.Store, log *slog.Logger) (*iap.Sandbox, error) {
	outcome, err := cfg.outcome()
	if err != nil {
		return nil, err
	}
	ns := kvstore.Namespace(store, sandboxNamespace)

	ctx := context.Background()
	history, err := kvstore.GetJSON[[]iap.Purchase](ctx, ns, sandboxHistoryKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}

	opts := []iap.SandboxOption{
		iap.WithUserID(cfg.UserID),
		iap.WithHistory(history...),
		iap.WithAutoOutcome(outcome, cfg.Delay),
	}
	for _, plan := range cat.Plans {
		opts = append(opts, iap.WithProducts(cat.FallbackProduct(plan)))
	}
	for sku, price := range cfg.CorruptPrices {
		opts = append(opts, iap.WithCorruptPrice(sku, price))
	}
	if cfg.DropEvents {
		opts = append(opts, iap.WithDroppedEvents())
	}
	sb := iap.NewSandbox(opts...)

	lc.Append(fx.StopHook(func(ctx context.Context) error {
		if err := kvstore.SetJSON(ctx, ns, sandboxHistoryKey, sb.History()); err != nil {
			log.ErrorContext(ctx, "failed to save sandbox history", logger.Error(err))
			return err
		}
		return nil
	}))
	return sb, nil
}

func provideBridge(lc fx.Lifecycle, sb *iap.Sandbox, log *slog.Logger) *iap.Bridge {
	bridge := iap.NewBridge(iap.Static(sb), iap.WithLogger(log))
	lc.Append(fx.StopHook(bridge.Close))
	return bridge
}

func provideValidator(cfg receipt.Config, log *slog.Logger) *receipt.Validator {
	return receipt.New(cfg, receipt.WithLogger(log))
}

func provideEngine(
	lc fx.Lifecycle,
	cfg EngineConfig,
	bridge *iap.Bridge,
	validator *receipt.Validator,
	store kvstore.Store,
	cat subscription.Catalog,
	sink analytics.Sink,
	log *slog.Logger,
) *subscription.Engine {
	engine := subscription.New(context.Background(), bridge, validator, store,
		subscription.WithLogger(log),
		subscription.WithAnalytics(sink),
		subscription.WithCatalog(cat),
		subscription.WithPurchaseTimeout(cfg.PurchaseTimeout),
		subscription.WithCatalogTimeout(cfg.CatalogTimeout),
		subscription.WithStatusWindow(cfg.StatusWindow),
		subscription.WithVerifyInterval(cfg.VerifyInterval),
	)
	lc.Append(fx.StopHook(engine.Close))
	return engine
}

func provideTracker(lc fx.Lifecycle) *appstate.Tracker {
	tracker := appstate.NewTracker()
	lc.Append(fx.StopHook(tracker.Close))
	return tracker
}

func providePolicy(cfg PaywallConfig, store kvstore.Store, log *slog.Logger) *paywall.Policy {
	return paywall.NewPolicy(store,
		paywall.WithPolicyLogger(log),
		paywall.WithMaxDismissals(cfg.MaxDismissals),
		paywall.WithDebounce(cfg.Debounce),
	)
}

func provideController(
	lc fx.Lifecycle,
	cfg PaywallConfig,
	policy *paywall.Policy,
	tracker *appstate.Tracker,
	engine *subscription.Engine,
	sink analytics.Sink,
	log *slog.Logger,
) *paywall.Controller {
	ctrl := paywall.NewController(policy, tracker, engine,
		paywall.WithLogger(log),
		paywall.WithAnalytics(sink),
		paywall.WithTriggerDelays(cfg.LoginDelay, cfg.ForegroundDelay),
	)
	lc.Append(fx.StopHook(ctrl.Close))
	return ctrl
}
