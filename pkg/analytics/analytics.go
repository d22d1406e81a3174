package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event names emitted by the subscription core.
const (
	PurchaseStarted     = "purchase_started"
	PurchaseSucceeded   = "purchase_succeeded"
	PurchaseFailed      = "purchase_failed"
	PurchaseCancelled   = "purchase_cancelled"
	RestoreCompleted    = "restore_completed"
	ValidationFailed    = "receipt_validation_failed"
	PaywallShown        = "paywall_shown"
	PaywallDismissed    = "paywall_dismissed"
	SubscriptionExpired = "subscription_expired"
)

// Props carries event properties.
type Props map[string]any

// Sink receives analytics events. Track must not block for long and never fails the caller.
type Sink interface {
	Track(ctx context.Context, name string, props Props)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(context.Context, string, Props) {}

// LogSink writes events as debug log records.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Track(ctx context.Context, name string, props Props) {
	attrs := make([]any, 0, len(props)+1)
	attrs = append(attrs, slog.String("event", name))
	for k, v := range props {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.log.DebugContext(ctx, "analytics event", attrs...)
}

type event struct {
	ctx   context.Context
	name  string
	props Props
}

// Async forwards events to another sink from a single background goroutine.
// When its buffer is full, new events are dropped.
type Async struct {
	next    Sink
	events  chan event
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(next Sink, buffer int) *Async {
	a := &Async{
		next:   next,
		events: make(chan event, max(buffer, 1)),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.events {
		a.next.Track(e.ctx, e.name, e.props)
	}
}

func (a *Async) Track(ctx context.Context, name string, props Props) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- event{ctx: context.WithoutCancel(ctx), name: name, props: props}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close flushes queued events and stops the worker.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
		a.wg.Wait()
	})
}
