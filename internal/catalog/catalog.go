// Package catalog implements the storefront adapters. Each provider exposes
// the same contract over a radically different DOM: search, candidate
// extraction, and cart mutation, all driven through a rod-controlled browser.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/atakdnz/fridge-order-agent/internal/config"
)

// Provider identifies a storefront.
type Provider string

const (
	ProviderGetir  Provider = "getir"
	ProviderMigros Provider = "migros"
	ProviderAkbal  Provider = "akbal"
)

// Candidate is one scraped search-result entry. It is only meaningful for
// the lifetime of the result page it was read from; Index is the page render
// position, not a price rank.
type Candidate struct {
	DisplayName string `json:"name"`
	PriceText   string `json:"price"`
	Index       int    `json:"index"`
}

// DesiredItem is one item the orchestrator should ensure is in the cart.
type DesiredItem struct {
	CanonicalName string `json:"canonical_name"`
	SearchTerm    string `json:"name"`
	Quantity      int    `json:"quantity"`
	Category      string `json:"category"`
}

// Chooser selects one candidate index. Implemented by the policy engine;
// a nil Chooser means "always the first result".
type Chooser interface {
	Choose(ctx context.Context, candidates []Candidate, searchTerm, preference, historyContext string) int
}

// HistoryProvider supplies the rendered consumption history block fed to the
// Chooser. May be nil.
type HistoryProvider interface {
	HistoryContext(limit int) string
}

// Adapter is the uniform storefront contract. Implementations hold a single
// browser page; none of the methods are safe for concurrent use.
//
// Boolean results follow the degradation policy: extraction and interaction
// problems report false (or sentinel values) rather than surfacing errors, so
// one broken selector never aborts a whole ordering run. AddByIndex does not
// read back the final cart quantity; increments past the first unit may
// silently no-op on a storefront that re-renders slowly. Known limitation.
type Adapter interface {
	// Provider returns the storefront identity.
	Provider() Provider

	// Start launches the browser and restores any persisted session.
	// Only a started adapter may search or mutate the cart.
	Start(ctx context.Context) error

	// Close releases the browser. The adapter is unusable afterwards.
	Close() error

	// IsAuthenticated navigates to the home surface and inspects login cues.
	// Providers without accounts always report true.
	IsAuthenticated(ctx context.Context) bool

	// Search issues a query and reports whether any result container became
	// visible within a bounded wait. Zero results is a false, not an error.
	Search(ctx context.Context, term string) bool

	// ListCandidates reads up to limit visible result cards. Fields that
	// cannot be extracted degrade to "Product {i}" / "N/A" sentinels.
	ListCandidates(ctx context.Context, limit int) []Candidate

	// AddByIndex adds the candidate at index to the cart, then increments
	// quantity-1 more times. An out-of-range index is clamped to 0 (logged).
	AddByIndex(ctx context.Context, index, quantity int) bool

	// AddProductSmart composes search → ListCandidates → Chooser → AddByIndex.
	// A Chooser failure falls back to index 0.
	AddProductSmart(ctx context.Context, term string, quantity int, preference string) bool

	// ClearCart removes all line items; an already-empty cart is success.
	ClearCart(ctx context.Context) bool

	// OpenCart navigates to the cart surface for manual checkout.
	OpenCart(ctx context.Context)

	// CartCount returns the cart badge count, 0 on any parse failure.
	CartCount(ctx context.Context) int
}

// Sessioned is implemented by adapters whose storefront has a login.
type Sessioned interface {
	// OpenLogin navigates to the login surface and dismisses consent popups
	// so the operator can complete the login interactively.
	OpenLogin(ctx context.Context) error

	// SaveSession persists the current cookies and web storage.
	SaveSession(ctx context.Context) error
}

// Adapter lifecycle states.
type adapterState int

const (
	stateUnstarted adapterState = iota
	stateStarted
	stateClosed
)

var (
	// ErrClosed is returned when operating on a closed adapter.
	ErrClosed = errors.New("catalog: adapter is closed")
	// ErrNotStarted is returned when searching or mutating before Start.
	ErrNotStarted = errors.New("catalog: adapter not started")
)

// New constructs the adapter for the given provider. chooser and history may
// be nil; the adapter then always picks the first candidate.
func New(provider Provider, cfg config.Config, chooser Chooser, history HistoryProvider) (Adapter, error) {
	switch provider {
	case ProviderGetir:
		return NewGetir(cfg, chooser, history), nil
	case ProviderMigros:
		return NewMigros(cfg, chooser, history), nil
	case ProviderAkbal:
		return NewAkbal(cfg, chooser, history), nil
	default:
		return nil, fmt.Errorf("catalog: unknown provider %q", provider)
	}
}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderGetir, ProviderMigros, ProviderAkbal:
		return Provider(name), nil
	default:
		return "", fmt.Errorf("catalog: unknown provider %q", name)
	}
}
