package iap

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is what the sandbox does with a purchase request on its own.
type Outcome int

const (
	// OutcomeManual leaves the request pending until Complete, Fail or Cancel is called.
	OutcomeManual Outcome = iota
	OutcomeSuccess
	OutcomeCancel
	OutcomeFail
)

// Sandbox is an in-process NativeModule with a scriptable store. It backs
// tests and the paywallctl simulator.
type Sandbox struct {
	mu        sync.Mutex
	emit      Emitter
	connected bool

	userID     string
	initResult string
	initErr    error

	products       []Product
	corrupt        map[string]string
	silentCatalog  bool
	dropEvents     bool
	historyByEvent bool

	outcome Outcome
	delay   time.Duration

	history []Purchase
	pending map[string]time.Time
	timers  []*time.Timer
	calls   map[string]int
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

func WithProducts(products ...Product) SandboxOption {
	return func(s *Sandbox) { s.products = append(s.products, products...) }
}

func WithUserID(id string) SandboxOption {
	return func(s *Sandbox) { s.userID = id }
}

// WithHistory seeds the purchase history.
func WithHistory(purchases ...Purchase) SandboxOption {
	return func(s *Sandbox) { s.history = append(s.history, purchases...) }
}

// WithInitResult overrides what InitConnection returns.
func WithInitResult(result string, err error) SandboxOption {
	return func(s *Sandbox) {
		s.initResult = result
		s.initErr = err
	}
}

// WithCorruptPrice makes the catalog report price as the localized price of sku.
func WithCorruptPrice(sku, price string) SandboxOption {
	return func(s *Sandbox) { s.corrupt[sku] = price }
}

// WithSilentCatalog makes GetSubscriptions never emit ProductsLoaded.
func WithSilentCatalog() SandboxOption {
	return func(s *Sandbox) { s.silentCatalog = true }
}

// WithDroppedEvents records completed purchases in the history without
// emitting PurchaseUpdated, the way some devices lose the callback.
func WithDroppedEvents() SandboxOption {
	return func(s *Sandbox) { s.dropEvents = true }
}

// WithHistoryByEvent makes GetAvailablePurchases return nothing and replay
// the history as PurchaseUpdated events instead.
func WithHistoryByEvent() SandboxOption {
	return func(s *Sandbox) { s.historyByEvent = true }
}

// WithAutoOutcome resolves every purchase request with o after delay.
func WithAutoOutcome(o Outcome, delay time.Duration) SandboxOption {
	return func(s *Sandbox) {
		s.outcome = o
		s.delay = delay
	}
}

func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		userID:     "sandbox-user",
		initResult: ConnectionConnected,
		corrupt:    make(map[string]string),
		pending:    make(map[string]time.Time),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) SetEmitter(e Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = e
}

func (s *Sandbox) InitConnection(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["InitConnection"]++

	if s.initErr != nil {
		return "", s.initErr
	}
	if s.connected {
		return ConnectionAlreadyInitialized, nil
	}
	if s.initResult == ConnectionConnected || s.initResult == ConnectionAlreadyInitialized {
		s.connected = true
	}
	return s.initResult, nil
}

func (s *Sandbox) GetSubscriptions(_ context.Context, skus []string) error {
	s.mu.Lock()
	s.calls["GetSubscriptions"]++
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.silentCatalog {
		s.mu.Unlock()
		return nil
	}

	found := make([]Product, 0, len(skus))
	for _, p := range s.products {
		if !slices.Contains(skus, p.ProductID) {
			continue
		}
		if bad, ok := s.corrupt[p.ProductID]; ok {
			p.LocalizedPrice = bad
			p.Price = bad
		}
		found = append(found, p)
	}
	emit := s.emit
	s.mu.Unlock()

	if emit != nil {
		emit(Event{Kind: ProductsLoaded, Products: found})
	}
	return nil
}

func (s *Sandbox) RequestSubscription(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["RequestSubscription"]++

	if !s.connected {
		return ErrNotConnected
	}
	if !slices.ContainsFunc(s.products, func(p Product) bool { return p.ProductID == sku }) {
		return ErrUnknownProduct
	}
	if _, ok := s.pending[sku]; ok {
		return ErrPurchasePending
	}
	s.pending[sku] = time.Now()

	var act func()
	switch s.outcome {
	case OutcomeSuccess:
		act = func() { _, _ = s.Complete(sku) }
	case OutcomeCancel:
		act = func() { _ = s.Cancel(sku) }
	case OutcomeFail:
		act = func() { _ = s.Fail(sku, "E_UNKNOWN", "purchase failed") }
	}
	if act != nil {
		s.timers = append(s.timers, time.AfterFunc(s.delay, act))
	}
	return nil
}

func (s *Sandbox) GetAvailablePurchases(context.Context) ([]Purchase, error) {
	s.mu.Lock()
	s.calls["GetAvailablePurchases"]++
	if !s.connected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	history := slices.Clone(s.history)
	byEvent, emit := s.historyByEvent, s.emit
	s.mu.Unlock()

	if !byEvent {
		return history, nil
	}
	for i := range history {
		if emit != nil {
			emit(Event{Kind: PurchaseUpdated, Purchase: &history[i]})
		}
	}
	return nil, nil
}

func (s *Sandbox) EndConnection(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["EndConnection"]++
	s.connected = false
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	return nil
}

// Complete finishes the pending purchase of sku with a fresh receipt.
func (s *Sandbox) Complete(sku string) (Purchase, error) {
	return s.CompleteWithReceipt(sku, uuid.NewString())
}

// CompleteWithReceipt finishes the pending purchase of sku with receiptID.
// The purchase lands in the history and, unless events are dropped, is emitted.
func (s *Sandbox) CompleteWithReceipt(sku, receiptID string) (Purchase, error) {
	s.mu.Lock()
	if _, ok := s.pending[sku]; !ok {
		s.mu.Unlock()
		return Purchase{}, ErrNothingPending
	}
	delete(s.pending, sku)

	p := Purchase{
		ProductID:    sku,
		ReceiptID:    receiptID,
		UserID:       s.userID,
		PurchaseTime: time.Now().UTC(),
		AutoRenewing: true,
		IsTrial:      s.hasTrial(sku),
	}
	s.history = append(s.history, p)
	emit, drop := s.emit, s.dropEvents
	s.mu.Unlock()

	if emit != nil && !drop {
		emit(Event{Kind: PurchaseUpdated, Purchase: &p})
	}
	return p, nil
}

// Fail ends the pending purchase of sku with an error event.
func (s *Sandbox) Fail(sku, code, message string) error {
	s.mu.Lock()
	if _, ok := s.pending[sku]; !ok {
		s.mu.Unlock()
		return ErrNothingPending
	}
	delete(s.pending, sku)
	emit := s.emit
	s.mu.Unlock()

	if emit != nil {
		emit(Event{Kind: PurchaseErrored, Err: &PurchaseError{Code: code, Message: message, ProductID: sku}})
	}
	return nil
}

// Cancel simulates the user closing the purchase dialog.
func (s *Sandbox) Cancel(sku string) error {
	return s.Fail(sku, CodeUserCancelled, "Purchase cancelled by user")
}

// Pending returns the SKUs with an unresolved purchase request.
func (s *Sandbox) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for sku := range s.pending {
		out = append(out, sku)
	}
	slices.Sort(out)
	return out
}

// AddHistory appends purchases to the history without emitting anything.
func (s *Sandbox) AddHistory(purchases ...Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, purchases...)
}

// History returns a copy of the purchase history.
func (s *Sandbox) History() []Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// ClearHistory forgets every past purchase.
func (s *Sandbox) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Calls returns how many times method was invoked.
func (s *Sandbox) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Must be called with lock held.
func (s *Sandbox) hasTrial(sku string) bool {
	for _, p := range s.products {
		if p.ProductID == sku {
			return p.FreeTrialPeriod != ""
		}
	}
	return false
}
