// Package order drives a full reorder run against one storefront adapter:
// authentication gate, cart reset, sequential item adds, and the suspended
// wait for an external checkout confirmation.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

var (
	// ErrNotAuthenticated halts a run before any cart mutation.
	ErrNotAuthenticated = errors.New("order: not authenticated, log in first")
	// ErrBusy reports a run already in flight on this orchestrator.
	ErrBusy = errors.New("order: a run is already in progress")
)

// ItemResult is the per-item outcome of a run. Items never abort each other;
// a failed search or add records Added=false and the run continues.
type ItemResult struct {
	Item   catalog.DesiredItem `json:"item"`
	Added  bool                `json:"added"`
	Detail string              `json:"detail,omitempty"`
}

// Orchestrator runs orders against one adapter. A single run may be in
// flight at a time; concurrent Run calls fail fast with ErrBusy.
type Orchestrator struct {
	adapter catalog.Adapter
	confirm chan struct{}
	busy    sync.Mutex

	// OnAwaitConfirm fires when the cart is open and the run is suspended
	// waiting for ConfirmCheckout. Optional.
	OnAwaitConfirm func()
}

// New creates an orchestrator for adapter.
func New(adapter catalog.Adapter) *Orchestrator {
	return &Orchestrator{
		adapter: adapter,
		confirm: make(chan struct{}, 1),
	}
}

// Run executes a full reorder: auth check, cart clear, one add per item,
// open cart, then suspend until ConfirmCheckout or ctx cancellation. The
// returned results always cover every input item once the auth gate passes.
func (o *Orchestrator) Run(ctx context.Context, items []catalog.DesiredItem, smart bool, preference string) ([]ItemResult, error) {
	if !o.busy.TryLock() {
		return nil, ErrBusy
	}
	defer o.busy.Unlock()

	provider := o.adapter.Provider()
	logging.Order("[%s] run starting: %d items (smart=%v)", provider, len(items), smart)

	if !o.adapter.IsAuthenticated(ctx) {
		logging.Order("[%s] not authenticated, aborting run", provider)
		return nil, ErrNotAuthenticated
	}

	if !o.adapter.ClearCart(ctx) {
		// Leftover items skew quantities but the run is still useful.
		logging.Order("[%s] cart clear failed, continuing with existing cart", provider)
	}

	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		added := false
		detail := ""
		if smart {
			added = o.adapter.AddProductSmart(ctx, item.SearchTerm, item.Quantity, preference)
			if !added {
				detail = "search or add failed"
			}
		} else {
			if o.adapter.Search(ctx, item.SearchTerm) {
				added = o.adapter.AddByIndex(ctx, 0, item.Quantity)
				if !added {
					detail = "add failed"
				}
			} else {
				detail = "search failed"
			}
		}

		results = append(results, ItemResult{Item: item, Added: added, Detail: detail})
		logging.Order("[%s] item %q added=%v %s", provider, item.SearchTerm, added, detail)
	}

	o.adapter.OpenCart(ctx)
	if count := o.adapter.CartCount(ctx); count > 0 {
		logging.Order("[%s] cart has %d items, awaiting checkout confirmation", provider, count)
	} else {
		logging.Order("[%s] awaiting checkout confirmation", provider)
	}

	if o.OnAwaitConfirm != nil {
		o.OnAwaitConfirm()
	}

	select {
	case <-ctx.Done():
		return results, fmt.Errorf("order: canceled while awaiting confirmation: %w", ctx.Err())
	case <-o.confirm:
	}

	logging.Order("[%s] run complete: %d/%d added", provider, countAdded(results), len(results))
	return results, nil
}

// ConfirmCheckout releases a run suspended after OpenCart. Safe to call at
// any time; a confirmation with no waiter is buffered for the next wait.
func (o *Orchestrator) ConfirmCheckout() {
	select {
	case o.confirm <- struct{}{}:
	default:
	}
}

func countAdded(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.Added {
			n++
		}
	}
	return n
}

// Flight serializes runs per provider across orchestrators. The HTTP server
// holds one so concurrent order requests for the same storefront fail fast.
type Flight struct {
	mu     sync.Mutex
	active map[catalog.Provider]bool
}

// NewFlight creates an empty guard.
func NewFlight() *Flight {
	return &Flight{active: make(map[catalog.Provider]bool)}
}

// TryAcquire reserves provider, reporting false when a run already holds it.
func (f *Flight) TryAcquire(provider catalog.Provider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active[provider] {
		return false
	}
	f.active[provider] = true
	return true
}

// Release frees provider.
func (f *Flight) Release(provider catalog.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, provider)
}
