package paywall_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/analytics"
	"github.com/dmitrymomot/paywall/pkg/appstate"
	"github.com/dmitrymomot/paywall/pkg/broadcast"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/paywall"
	"github.com/dmitrymomot/paywall/pkg/subscription"
)

type fakeSubs struct {
	mu      sync.Mutex
	status  subscription.Status
	updates *broadcast.MemoryBroadcaster[subscription.Status]
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{status: subscription.FreeStatus(), updates: broadcast.NewMemoryBroadcaster[subscription.Status](8)}
}

func (f *fakeSubs) Status() subscription.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSubs) Watch(ctx context.Context, fn func(subscription.Status)) func() {
	return broadcast.Listen[subscription.Status](ctx, f.updates, fn)
}

func (f *fakeSubs) set(st subscription.Status) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
	_ = f.updates.Broadcast(context.Background(), broadcast.Message[subscription.Status]{Data: st})
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

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

type fixture struct {
	store   kvstore.Store
	policy  *paywall.Policy
	tracker *appstate.Tracker
	subs    *fakeSubs
	sink    *recorder
	ctrl    *paywall.Controller
}

func newFixture(t *testing.T, debounce, login, foreground time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:   kvstore.NewMemory(),
		tracker: appstate.NewTracker(),
		subs:    newFakeSubs(),
		sink:    &recorder{},
	}
	f.policy = paywall.NewPolicy(f.store, paywall.WithDebounce(debounce), paywall.WithPolicyLogger(logger.Discard()))
	f.ctrl = paywall.NewController(f.policy, f.tracker, f.subs,
		paywall.WithTriggerDelays(login, foreground),
		paywall.WithAnalytics(f.sink),
		paywall.WithLogger(logger.Discard()),
	)
	t.Cleanup(func() {
		_ = f.ctrl.Close()
		_ = f.tracker.Close()
		_ = f.subs.updates.Close()
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
}

func (f *fixture) visible() bool { return f.ctrl.Visibility().Visible }

func TestController_LoginTrigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("shows after login", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Second, 20*time.Millisecond, time.Hour)
		f.start(t)

		seen := make(chan paywall.Visibility, 4)
		stop := f.ctrl.Watch(ctx, func(v paywall.Visibility) { seen <- v })
		defer stop()

		start := time.Now()
		f.tracker.SetSession(ctx, true)

		select {
		case v := <-seen:
			assert.True(t, v.Visible)
			assert.True(t, v.Dismissible)
			assert.Equal(t, paywall.TriggerLogin, v.Trigger)
			assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		case <-time.After(time.Second):
			t.Fatal("paywall was not shown")
		}
		assert.Equal(t, 1, f.sink.count(analytics.PaywallShown))
	})

	t.Run("once per lifetime", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, 10*time.Millisecond, time.Hour)
		f.start(t)

		f.tracker.SetSession(ctx, true)
		require.Eventually(t, f.visible, time.Second, time.Millisecond)

		f.tracker.SetSession(ctx, false)
		require.Eventually(t, func() bool { return !f.visible() }, time.Second, time.Millisecond)

		f.tracker.SetSession(ctx, true)
		time.Sleep(50 * time.Millisecond)
		assert.False(t, f.visible())
		assert.Equal(t, 1, f.sink.count(analytics.PaywallShown))
	})

	t.Run("existing session at start", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Second, 10*time.Millisecond, time.Hour)
		f.tracker.SetSession(ctx, true)
		f.start(t)

		require.Eventually(t, f.visible, time.Second, time.Millisecond)
		assert.Equal(t, paywall.TriggerLogin, f.ctrl.Visibility().Trigger)
	})

	t.Run("subscribed user is not shown", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, 10*time.Millisecond, time.Hour)
		f.subs.set(subscription.SubscribedStatus(subscription.TierMonthly, "tok-1"))
		f.start(t)

		f.tracker.SetSession(ctx, true)
		time.Sleep(50 * time.Millisecond)
		assert.False(t, f.visible())
	})
}

func TestController_ForegroundTrigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("shows after returning to the foreground", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, 20*time.Millisecond)
		f.tracker.SetSession(ctx, true)
		f.start(t)

		f.tracker.SetLifecycle(ctx, appstate.Background)
		time.Sleep(40 * time.Millisecond)
		assert.False(t, f.visible())

		f.tracker.SetLifecycle(ctx, appstate.Active)
		require.Eventually(t, f.visible, time.Second, time.Millisecond)
		assert.Equal(t, paywall.TriggerForeground, f.ctrl.Visibility().Trigger)
	})

	t.Run("inactive counts as background", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, 10*time.Millisecond)
		f.tracker.SetSession(ctx, true)
		f.start(t)

		f.tracker.SetLifecycle(ctx, appstate.Inactive)
		f.tracker.SetLifecycle(ctx, appstate.Active)
		require.Eventually(t, f.visible, time.Second, time.Millisecond)
	})

	t.Run("no session", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, 10*time.Millisecond)
		f.start(t)

		f.tracker.SetLifecycle(ctx, appstate.Background)
		f.tracker.SetLifecycle(ctx, appstate.Active)
		time.Sleep(50 * time.Millisecond)
		assert.False(t, f.visible())
	})
}

func TestController_TriggersAreDebounced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, time.Second, 10*time.Millisecond, 60*time.Millisecond)
	f.start(t)

	f.tracker.SetSession(ctx, true)
	require.Eventually(t, f.visible, time.Second, time.Millisecond)
	require.NoError(t, f.ctrl.Dismiss(ctx))

	// The foreground trigger lands inside the debounce window.
	f.tracker.SetLifecycle(ctx, appstate.Background)
	f.tracker.SetLifecycle(ctx, appstate.Active)
	time.Sleep(120 * time.Millisecond)

	assert.False(t, f.visible())
	assert.Equal(t, 1, f.sink.count(analytics.PaywallShown))
}

func TestController_Dismiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not showing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, time.Hour)
		f.start(t)
		assert.ErrorIs(t, f.ctrl.Dismiss(ctx), paywall.ErrNotShowing)
	})

	t.Run("third showing cannot be dismissed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, time.Hour)
		f.start(t)

		for i := range 2 {
			v := f.ctrl.Show(ctx)
			require.True(t, v.Visible)
			require.True(t, v.Dismissible, "showing %d", i+1)
			require.NoError(t, f.ctrl.Dismiss(ctx))
			require.False(t, f.visible())
		}

		v := f.ctrl.Show(ctx)
		assert.True(t, v.Visible)
		assert.False(t, v.Dismissible)

		assert.ErrorIs(t, f.ctrl.Dismiss(ctx), paywall.ErrHardPaywall)
		assert.True(t, f.visible())
		assert.Equal(t, 2, f.sink.count(analytics.PaywallDismissed))

		st, err := f.policy.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.DismissCount)
	})

	t.Run("subscription lifts the hard paywall", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0, time.Hour, time.Hour)
		f.start(t)
		for range 2 {
			f.ctrl.Show(ctx)
			require.NoError(t, f.ctrl.Dismiss(ctx))
		}
		require.False(t, f.ctrl.Show(ctx).Dismissible)

		f.subs.set(subscription.SubscribedStatus(subscription.TierQuarterly, "tok-1"))
		require.Eventually(t, func() bool { return !f.visible() }, time.Second, time.Millisecond)

		st, err := f.policy.State(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.DismissCount)
		assert.True(t, f.policy.CanDismiss(ctx))

		// Nothing to sell to a subscriber.
		assert.False(t, f.ctrl.Show(ctx).Visible)
	})
}

func TestController_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, 0, time.Hour, time.Hour)
	f.start(t)
	assert.ErrorIs(t, f.ctrl.Start(ctx), paywall.ErrAlreadyStarted)

	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())
	assert.ErrorIs(t, f.ctrl.Start(ctx), paywall.ErrControllerClosed)

	assert.Panics(t, func() { paywall.NewController(nil, f.tracker, f.subs) })
	assert.Panics(t, func() { paywall.NewController(f.policy, nil, f.subs) })
	assert.Panics(t, func() { paywall.NewController(f.policy, f.tracker, nil) })
}
