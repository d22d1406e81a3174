package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/paywall/pkg/cache"
	"github.com/dmitrymomot/paywall/pkg/environment"
	"github.com/dmitrymomot/paywall/pkg/logger"
)

// Validator confirms receipts through the chain
// backend → vendor → (development only) optimistic success.
type Validator struct {
	cfg     Config
	env     environment.Environment
	client  *http.Client
	backoff Backoff
	breaker *CircuitBreaker
	cache   *cache.LRUCache[string, Result]
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) {
		if c != nil {
			v.client = c
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(v *Validator) {
		if b != nil {
			v.backoff = b
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(v *Validator) {
		if cb != nil {
			v.breaker = cb
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func New(cfg Config, opts ...Option) *Validator {
	v := &Validator{
		cfg:     cfg,
		env:     environment.Parse(cfg.Env),
		client:  &http.Client{},
		backoff: DefaultBackoff(),
		breaker: NewCircuitBreaker(5, 1, 30*time.Second),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With(logger.Component("receipt"))

	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		v.cache = cache.NewLRUCache[string, Result](cfg.CacheSize, cache.WithTTL(cfg.CacheTTL), cache.WithClock(v.now))
	}
	return v
}

// Validate runs the chain for req. A non-nil error means no link produced a
// verdict (ErrNetwork, ErrNotConfigured); rejections come back as a Result
// with IsValid false and a Code.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	if req.ReceiptID == "" {
		return rejected(CodeInvalidFormat, "receipt id is empty"), nil
	}

	key := req.ReceiptID + "|" + req.ProductID
	if v.cache != nil {
		if res, ok := v.cache.Get(key); ok {
			return &res, nil
		}
	}

	backend, vendor := v.cfg.backendConfigured(), v.cfg.vendorConfigured()
	if !backend && !vendor {
		if v.env.IsDevelopment() {
			v.log.WarnContext(ctx, "no receipt validation configured, accepting receipt optimistically",
				logger.ReceiptID(req.ReceiptID), logger.ProductID(req.ProductID))
			return &Result{
				IsValid:   true,
				ReceiptID: req.ReceiptID,
				ProductID: req.ProductID,
				Source:    SourceOptimistic,
			}, nil
		}
		return nil, ErrNotConfigured
	}

	var errs []error
	if backend {
		res, err := v.validateBackend(ctx, req)
		if err == nil {
			res.fill(req)
			v.remember(key, res)
			return res, nil
		}
		v.log.WarnContext(ctx, "backend receipt validation failed",
			logger.ReceiptID(req.ReceiptID), logger.Error(err))
		errs = append(errs, err)
	}

	if vendor {
		res, err := v.validateVendor(ctx, req)
		if err == nil {
			res.fill(req)
			v.remember(key, res)
			return res, nil
		}
		v.log.WarnContext(ctx, "vendor receipt verification failed",
			logger.ReceiptID(req.ReceiptID), logger.Error(err))
		errs = append(errs, err)
	}

	return nil, errors.Join(append([]error{ErrNetwork}, errs...)...)
}

// VerifyActive reports whether the receipt validates and has not expired.
func (v *Validator) VerifyActive(ctx context.Context, req Request) bool {
	res, err := v.Validate(ctx, req)
	if err != nil {
		return false
	}
	return res.Active(v.now())
}

func (v *Validator) remember(key string, res *Result) {
	if v.cache != nil && res.IsValid {
		v.cache.Put(key, *res)
	}
}
