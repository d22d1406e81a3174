package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrymomot/paywall/pkg/logger"
)

// LoadProducts asks the store for skus and waits for the catalog event.
// Requested products the store does not know are dropped; products with an
// unusable price get the catalog's fallback price. Concurrent callers share
// one store request as long as it asks for every SKU they need. Before Init
// it returns an empty list and ErrNotInitialized.
func (e *Engine) LoadProducts(ctx context.Context, skus []string) ([]Product, error) {
	if err := e.ready(); err != nil {
		return []Product{}, err
	}

	for {
		v, err, _ := e.flight.Do(productsKey, func() (any, error) {
			products, err := e.loadProducts(ctx, skus)
			return catalogLoad{skus: skus, products: products}, err
		})
		if err != nil {
			return []Product{}, err
		}

		// A joined call may have been made for a smaller SKU list; ask again
		// once it is done.
		load := v.(catalogLoad)
		if !load.covers(skus) {
			if err := ctx.Err(); err != nil {
				return []Product{}, err
			}
			continue
		}

		out := make([]Product, 0, len(load.products))
		for _, p := range load.products {
			if slices.Contains(skus, p.ProductID) {
				out = append(out, p)
			}
		}
		return out, nil
	}
}

// catalogLoad is the result of one shared catalog request.
type catalogLoad struct {
	skus     []string
	products []Product
}

func (l catalogLoad) covers(skus []string) bool {
	for _, sku := range skus {
		if !slices.Contains(l.skus, sku) {
			return false
		}
	}
	return true
}

func (e *Engine) loadProducts(ctx context.Context, skus []string) ([]Product, error) {
	fut, err := e.requests.Register(productsKey)
	if err != nil {
		return nil, err
	}
	defer e.requests.Forget(productsKey, fut)

	// The answer arrives as a ProductsLoaded event, possibly before
	// GetSubscriptions returns.
	if err := e.bridge.GetSubscriptions(ctx, skus); err != nil {
		return nil, fmt.Errorf("subscription: request catalog: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.catalogTimeout)
	defer cancel()
	raw, err := fut.AwaitContext(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("catalog load: %w", ErrTimeout)
		}
		return nil, err
	}

	products, replaced := e.catalog.sanitize(raw, skus)
	for _, id := range replaced {
		e.log.WarnContext(ctx, "store reported an unusable price, using fallback", logger.ProductID(id))
	}

	e.mu.Lock()
	e.products = products
	e.mu.Unlock()

	e.log.DebugContext(ctx, "catalog loaded", "requested", len(skus), "loaded", len(products))
	return products, nil
}
