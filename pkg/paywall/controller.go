package paywall

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/appstate"
	"github.com/dmitrymomot/paywall/pkg/broadcast"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/subscription"
)

const (
	DefaultLoginDelay      = 1500 * time.Millisecond
	DefaultForegroundDelay = 3 * time.Second
)

// Trigger names why the paywall was shown.
type Trigger string

const (
	TriggerLogin      Trigger = "login"
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
)

// Visibility is published whenever the paywall appears, disappears or
// changes dismissibility. Dismissible false means no close affordance.
type Visibility struct {
	Visible     bool    `json:"visible"`
	Dismissible bool    `json:"dismissible"`
	Trigger     Trigger `json:"trigger,omitempty"`
}

// Subscriptions is the part of the subscription engine the controller needs.
type Subscriptions interface {
	Status() subscription.Status
	Watch(ctx context.Context, fn func(subscription.Status)) (stop func())
}

// Controller surfaces the paywall on login and on return to the foreground,
// hides it once the user subscribes and enforces the dismissal policy.
type Controller struct {
	policy  *Policy
	tracker *appstate.Tracker
	subs    Subscriptions

	log       *slog.Logger
	analytics analytics.Sink

	loginDelay      time.Duration
	foregroundDelay time.Duration

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	closed     bool
	loginFired bool
	visibility Visibility
	timers     map[Trigger]*time.Timer
	stops      []func()

	signal *broadcast.MemoryBroadcaster[Visibility]
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithAnalytics(s analytics.Sink) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.analytics = s
		}
	}
}

// WithTriggerDelays sets how long after login and after returning to the
// foreground the paywall is considered.
func WithTriggerDelays(login, foreground time.Duration) ControllerOption {
	return func(c *Controller) {
		if login >= 0 {
			c.loginDelay = login
		}
		if foreground >= 0 {
			c.foregroundDelay = foreground
		}
	}
}

func NewController(policy *Policy, tracker *appstate.Tracker, subs Subscriptions, opts ...ControllerOption) *Controller {
	if policy == nil {
		panic("paywall: Policy is required")
	}
	if tracker == nil {
		panic("paywall: appstate.Tracker is required")
	}
	if subs == nil {
		panic("paywall: Subscriptions is required")
	}

	c := &Controller{
		policy:          policy,
		tracker:         tracker,
		subs:            subs,
		log:             slog.Default(),
		analytics:       analytics.Nop{},
		loginDelay:      DefaultLoginDelay,
		foregroundDelay: DefaultForegroundDelay,
		timers:          make(map[Trigger]*time.Timer),
		signal:          broadcast.NewMemoryBroadcaster[Visibility](8),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("paywall"))
	return c
}

// Start subscribes to app state and subscription changes. A session that
// already exists counts as the login of this app lifetime.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.stops = append(c.stops,
		c.tracker.Listen(c.ctx, c.onAppChange),
		c.subs.Watch(c.ctx, c.onStatus),
	)
	if c.tracker.HasSession() {
		c.loginFired = true
		c.schedule(TriggerLogin, c.loginDelay)
	}
	return nil
}

// Visibility returns the current paywall state.
func (c *Controller) Visibility() Visibility {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibility
}

// Watch calls fn for every visibility change until ctx ends or stop is called.
func (c *Controller) Watch(ctx context.Context, fn func(Visibility)) (stop func()) {
	return broadcast.Listen[Visibility](ctx, c.signal, fn)
}

// Show presents the paywall on explicit user request, bypassing the
// auto-show debounce. It does nothing for subscribed users.
func (c *Controller) Show(ctx context.Context) Visibility {
	if c.subs.Status().IsSubscribed {
		return c.Visibility()
	}
	if err := c.policy.MarkShown(ctx); err != nil {
		c.log.WarnContext(ctx, "failed to record paywall showing", logger.Error(err))
	}
	return c.present(ctx, TriggerManual)
}

// Dismiss closes the paywall if the policy allows it. Once the allowance is
// used up it returns ErrHardPaywall and the paywall stays visible.
func (c *Controller) Dismiss(ctx context.Context) error {
	c.mu.Lock()
	if !c.visibility.Visible {
		c.mu.Unlock()
		return ErrNotShowing
	}
	c.mu.Unlock()

	count, allowed, err := c.policy.TryDismiss(ctx)
	if !allowed {
		c.publish(ctx, func(v Visibility) Visibility {
			v.Dismissible = false
			return v
		})
		return ErrHardPaywall
	}
	if err != nil {
		c.log.WarnContext(ctx, "failed to persist paywall dismissal", logger.Error(err))
	}
	c.analytics.Track(ctx, analytics.PaywallDismissed, analytics.Props{"dismiss_count": count})
	c.log.DebugContext(ctx, "paywall dismissed", "dismiss_count", count)

	c.publish(ctx, func(Visibility) Visibility { return Visibility{} })
	return nil
}

// Close stops the triggers and listeners and ends Watch subscriptions.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.stopTimers()
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return c.signal.Close()
}

func (c *Controller) onAppChange(ch appstate.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if !ch.HasSession {
		c.stopTimers()
		if c.visibility.Visible {
			c.visibility = Visibility{}
			c.broadcast(c.ctx, c.visibility)
		}
		return
	}
	if ch.SessionStarted && !c.loginFired {
		c.loginFired = true
		c.schedule(TriggerLogin, c.loginDelay)
	}
	if ch.IsForeground() {
		c.schedule(TriggerForeground, c.foregroundDelay)
	}
}

func (c *Controller) onStatus(st subscription.Status) {
	if !st.IsSubscribed {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimers()
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.policy.Reset(ctx); err != nil {
		c.log.WarnContext(ctx, "failed to reset paywall state", logger.Error(err))
	}
	c.publish(ctx, func(v Visibility) Visibility {
		if !v.Visible {
			return v
		}
		c.log.InfoContext(ctx, "user subscribed, hiding paywall", logger.Tier(string(st.Tier)))
		return Visibility{}
	})
}

// Must be called with c.mu held.
func (c *Controller) schedule(trig Trigger, delay time.Duration) {
	if t, ok := c.timers[trig]; ok {
		t.Stop()
	}
	c.timers[trig] = time.AfterFunc(delay, func() { c.fire(trig) })
}

// Must be called with c.mu held.
func (c *Controller) stopTimers() {
	for trig, t := range c.timers {
		t.Stop()
		delete(c.timers, trig)
	}
}

func (c *Controller) fire(trig Trigger) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	showing := c.visibility.Visible
	c.mu.Unlock()

	ac := AutoShowContext{
		HasSession:   c.tracker.HasSession(),
		IsSubscribed: c.subs.Status().IsSubscribed,
		IsShowing:    showing,
	}
	if !c.policy.TryAutoShow(ctx, ac) {
		c.log.DebugContext(ctx, "paywall auto-show skipped", "trigger", string(trig))
		return
	}
	c.present(ctx, trig)
}

func (c *Controller) present(ctx context.Context, trig Trigger) Visibility {
	dismissible := c.policy.CanDismiss(ctx)
	c.log.InfoContext(ctx, "paywall shown", "trigger", string(trig), "dismissible", dismissible)
	c.analytics.Track(ctx, analytics.PaywallShown, analytics.Props{"trigger": string(trig), "dismissible": dismissible})
	return c.publish(ctx, func(Visibility) Visibility {
		return Visibility{Visible: true, Dismissible: dismissible, Trigger: trig}
	})
}

// publish applies fn to the visibility and broadcasts the result if it changed.
func (c *Controller) publish(ctx context.Context, fn func(Visibility) Visibility) Visibility {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := fn(c.visibility)
	if next == c.visibility || c.closed {
		return c.visibility
	}
	c.visibility = next
	c.broadcast(ctx, next)
	return next
}

// Must be called with c.mu held.
func (c *Controller) broadcast(ctx context.Context, v Visibility) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.signal.Broadcast(ctx, broadcast.Message[Visibility]{Data: v}); err != nil {
		c.log.DebugContext(ctx, "paywall visibility not delivered", logger.Error(err))
	}
}
