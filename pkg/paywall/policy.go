package paywall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
)

// Keys under the "paywall" namespace.
const (
	storeNamespace = "paywall"

	keyDismissCount = "dismissCount"
	keyLastShown    = "lastShownTimestamp"
)

const (
	// DefaultMaxDismissals is how many times the paywall can be closed
	// before it turns hard.
	DefaultMaxDismissals = 2

	// DefaultDebounce is the minimum time between two automatic showings.
	DefaultDebounce = 5 * time.Second
)

// State is the persisted paywall state.
type State struct {
	DismissCount int        `json:"dismissCount"`
	LastShown    *time.Time `json:"lastShown,omitempty"`
}

// AutoShowContext is what the caller knows when an auto-show trigger fires.
type AutoShowContext struct {
	HasSession   bool
	IsSubscribed bool
	IsShowing    bool
}

// Policy decides whether the paywall may be dismissed and whether it should
// surface on its own. All state lives in the store, so policies built over
// the same store agree.
type Policy struct {
	mu  sync.Mutex
	kv  kvstore.Store
	log *slog.Logger
	now func() time.Time

	maxDismissals int
	debounce      time.Duration
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) {
		if l != nil {
			p.log = l
		}
	}
}

func WithPolicyClock(now func() time.Time) PolicyOption {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMaxDismissals sets how many dismissals are allowed before the paywall
// turns hard.
func WithMaxDismissals(n int) PolicyOption {
	return func(p *Policy) {
		if n >= 0 {
			p.maxDismissals = n
		}
	}
}

func WithDebounce(d time.Duration) PolicyOption {
	return func(p *Policy) {
		if d >= 0 {
			p.debounce = d
		}
	}
}

// NewPolicy returns a policy persisting to store under the "paywall" namespace.
func NewPolicy(store kvstore.Store, opts ...PolicyOption) *Policy {
	if store == nil {
		panic("paywall: kvstore.Store is required")
	}
	p := &Policy{
		kv:            kvstore.Namespace(store, storeNamespace),
		log:           slog.Default(),
		now:           time.Now,
		maxDismissals: DefaultMaxDismissals,
		debounce:      DefaultDebounce,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("paywall"))
	return p
}

// State returns the persisted state. Missing keys read as zero values.
func (p *Policy) State(ctx context.Context) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(ctx)
}

// CanDismiss reports whether the paywall may be closed without subscribing.
// An unreadable store counts as no dismissals.
func (p *Policy) CanDismiss(ctx context.Context) bool {
	st, err := p.State(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "paywall state unreadable", logger.Error(err))
	}
	return st.DismissCount < p.maxDismissals
}

// RecordDismissal increments the dismissal count and returns the new value.
func (p *Policy) RecordDismissal(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.load(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "paywall state unreadable, counting from zero", logger.Error(err))
	}
	st.DismissCount++
	if err := kvstore.SetInt(ctx, p.kv, keyDismissCount, st.DismissCount); err != nil {
		return st.DismissCount, errors.Join(ErrStateUnavailable, err)
	}
	return st.DismissCount, nil
}

// TryDismiss records a dismissal if the allowance is not used up yet, checking
// and incrementing in one step. It returns the resulting count and whether
// the dismissal was allowed.
func (p *Policy) TryDismiss(ctx context.Context) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.load(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "paywall state unreadable, counting from zero", logger.Error(err))
	}
	if st.DismissCount >= p.maxDismissals {
		return st.DismissCount, false, nil
	}
	st.DismissCount++
	if err := kvstore.SetInt(ctx, p.kv, keyDismissCount, st.DismissCount); err != nil {
		return st.DismissCount, true, errors.Join(ErrStateUnavailable, err)
	}
	return st.DismissCount, true, nil
}

// Reset clears the dismissal count and the last showing.
func (p *Policy) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, key := range []string{keyDismissCount, keyLastShown} {
		if err := p.kv.Delete(ctx, key); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return errors.Join(ErrStateUnavailable, err)
	}
	return nil
}

// ShouldAutoShow reports whether an automatic trigger may show the paywall:
// the user has a session, is not subscribed, is not looking at it already,
// and it was not shown within the debounce window.
func (p *Policy) ShouldAutoShow(ctx context.Context, ac AutoShowContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldAutoShow(ctx, ac)
}

// TryAutoShow is ShouldAutoShow followed by MarkShown, atomically. Of two
// triggers racing within the debounce window only one gets true.
func (p *Policy) TryAutoShow(ctx context.Context, ac AutoShowContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.shouldAutoShow(ctx, ac) {
		return false
	}
	if err := p.markShown(ctx); err != nil {
		p.log.WarnContext(ctx, "failed to record paywall showing", logger.Error(err))
	}
	return true
}

// MarkShown records that the paywall was shown now.
func (p *Policy) MarkShown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markShown(ctx)
}

func (p *Policy) shouldAutoShow(ctx context.Context, ac AutoShowContext) bool {
	if !ac.HasSession || ac.IsSubscribed || ac.IsShowing {
		return false
	}
	st, err := p.load(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "paywall state unreadable", logger.Error(err))
	}
	if st.LastShown == nil {
		return true
	}
	return p.now().Sub(*st.LastShown) >= p.debounce
}

func (p *Policy) markShown(ctx context.Context) error {
	if err := kvstore.SetTime(ctx, p.kv, keyLastShown, p.now()); err != nil {
		return errors.Join(ErrStateUnavailable, err)
	}
	return nil
}

// Must be called with p.mu held.
func (p *Policy) load(ctx context.Context) (State, error) {
	var (
		st   State
		errs []error
	)
	n, err := kvstore.GetInt(ctx, p.kv, keyDismissCount)
	switch {
	case err == nil:
		st.DismissCount = max(n, 0)
	case !errors.Is(err, kvstore.ErrNotFound):
		errs = append(errs, err)
	}

	t, err := kvstore.GetTime(ctx, p.kv, keyLastShown)
	switch {
	case err == nil:
		st.LastShown = &t
	case !errors.Is(err, kvstore.ErrNotFound):
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return st, errors.Join(ErrStateUnavailable, err)
	}
	return st, nil
}
