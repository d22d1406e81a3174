package appstate

import (
	"context"
	"sync"

	"github.com/dmitrymomot/paywall/pkg/broadcast"
)

// Lifecycle is the host application's lifecycle state.
type Lifecycle string

const (
	Active     Lifecycle = "active"
	Background Lifecycle = "background"
	Inactive   Lifecycle = "inactive"
)

// Change describes one update published by Tracker.
type Change struct {
	Previous   Lifecycle
	Current    Lifecycle
	HasSession bool
	// SessionStarted is true when this change flipped the session from absent to present.
	SessionStarted bool
}

// IsForeground reports whether the change brought the app back to the
// foreground from background or inactive.
func (c Change) IsForeground() bool {
	return c.Current == Active && (c.Previous == Background || c.Previous == Inactive)
}

// Tracker holds the session flag and lifecycle state and publishes every change.
type Tracker struct {
	mu         sync.RWMutex
	state      Lifecycle
	hasSession bool
	changes    *broadcast.MemoryBroadcaster[Change]
}

// NewTracker starts in the Active state without a session.
func NewTracker() *Tracker {
	return &Tracker{
		state:   Active,
		changes: broadcast.NewMemoryBroadcaster[Change](16),
	}
}

// SetSession records whether a user is logged in.
func (t *Tracker) SetSession(ctx context.Context, has bool) {
	t.mu.Lock()
	if t.hasSession == has {
		t.mu.Unlock()
		return
	}
	started := has && !t.hasSession
	t.hasSession = has
	c := Change{Previous: t.state, Current: t.state, HasSession: has, SessionStarted: started}
	t.mu.Unlock()

	_ = t.changes.Broadcast(ctx, broadcast.Message[Change]{Data: c})
}

// SetLifecycle records a lifecycle transition. Repeated states are ignored.
func (t *Tracker) SetLifecycle(ctx context.Context, s Lifecycle) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	c := Change{Previous: t.state, Current: s, HasSession: t.hasSession}
	t.state = s
	t.mu.Unlock()

	_ = t.changes.Broadcast(ctx, broadcast.Message[Change]{Data: c})
}

func (t *Tracker) HasSession() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasSession
}

func (t *Tracker) Lifecycle() Lifecycle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Listen calls fn for every change until ctx is done or stop is called.
func (t *Tracker) Listen(ctx context.Context, fn func(Change)) (stop func()) {
	return broadcast.Listen[Change](ctx, t.changes, fn)
}

// Close stops publishing and ends all listeners.
func (t *Tracker) Close() error {
	return t.changes.Close()
}
