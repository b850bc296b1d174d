package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// Getir drives the getir.com storefront. Products and their add-to-cart
// counters are interleaved siblings in the result grid, so cart mutation
// works on the flat counter-button list rather than per-card controls.
type Getir struct {
	*session
}

var getirSearchInputs = []selectorStrategy{
	css("input[placeholder*='Ürün ara']"),
	css("[aria-label='Search Bar']"),
	css("input[placeholder*='ara']"),
}

const (
	getirProductSel = "button[aria-label='Show Product']"
	getirCounterSel = "button[aria-label='counter']"
)

// NewGetir creates the Getir adapter. The storefront tolerates plain
// automation, so no stealth page is used.
func NewGetir(cfg config.Config, chooser Chooser, history HistoryProvider) *Getir {
	return &Getir{session: newSession(ProviderGetir, cfg, cfg.Providers.Getir, false, chooser, history)}
}

func (g *Getir) Provider() Provider { return ProviderGetir }

// IsAuthenticated loads the home surface and looks for logged-out cues: the
// phone-number input and the login link. Absence of both means logged in.
func (g *Getir) IsAuthenticated(ctx context.Context) bool {
	if !g.started() {
		return false
	}
	if err := g.navigate(ctx, g.prov.BaseURL, 2*time.Second); err != nil {
		logging.Browser("[getir] auth check navigation failed: %v", err)
		return false
	}

	if _, visible := g.firstVisible(ctx, []selectorStrategy{css("input[placeholder*='telefon']")}, 3*time.Second); visible {
		return false
	}
	if _, visible := g.firstVisible(ctx, []selectorStrategy{byText("button, a", "Giriş yap")}, 2*time.Second); visible {
		return false
	}
	return true
}

// OpenLogin brings up the home page and dismisses the cookie banner so the
// operator can complete phone + SMS login by hand.
func (g *Getir) OpenLogin(ctx context.Context) error {
	if !g.started() {
		return ErrNotStarted
	}
	if err := g.navigate(ctx, g.prov.BaseURL, 2*time.Second); err != nil {
		return err
	}
	if btn, visible := g.firstVisible(ctx, []selectorStrategy{byText("button", "Tümünü Kabul Et")}, 3*time.Second); visible {
		_ = clickElement(btn)
	}
	return nil
}

// Search types the term into the search bar and submits it. When the bar
// cannot be found the /arama?q= URL is used directly; Getir renders the same
// result grid either way.
func (g *Getir) Search(ctx context.Context, term string) bool {
	if !g.started() {
		return false
	}
	logging.Browser("[getir] searching for %q", term)

	if err := g.navigate(ctx, g.prov.BaseURL, 2*time.Second); err != nil {
		logging.Browser("[getir] search navigation failed: %v", err)
		return false
	}

	if field, visible := g.firstVisible(ctx, getirSearchInputs, 3*time.Second); visible {
		if err := clickElement(field); err == nil {
			if err := field.Input(term); err == nil {
				if err := field.Type(input.Enter); err == nil {
					sleepCtx(ctx, 2*time.Second)
					return true
				}
			}
		}
		logging.Browser("[getir] search input interaction failed, falling back to URL")
	}

	searchURL := fmt.Sprintf("%s?q=%s", g.prov.SearchURL, url.QueryEscape(term))
	if err := g.navigate(ctx, searchURL, 2*time.Second); err != nil {
		logging.Browser("[getir] URL search failed: %v", err)
		return false
	}
	return true
}

// ListCandidates reads the product buttons off the result grid. Each button's
// text is "Name ₺Price"; a missing ₺ leaves the price as N/A.
func (g *Getir) ListCandidates(ctx context.Context, limit int) []Candidate {
	if !g.started() {
		return nil
	}
	sleepCtx(ctx, 2*time.Second)

	buttons := g.elements(ctx, getirProductSel)
	logging.Browser("[getir] found %d products on page", len(buttons))
	if len(buttons) == 0 {
		return nil
	}
	if len(buttons) > limit {
		buttons = buttons[:limit]
	}

	candidates := make([]Candidate, 0, len(buttons))
	for i, btn := range buttons {
		name := fmt.Sprintf("Product %d", i+1)
		price := "N/A"

		if text, err := btn.Text(); err == nil {
			parts := strings.SplitN(text, "₺", 2)
			if trimmed := strings.TrimSpace(parts[0]); trimmed != "" {
				name = truncateName(trimmed)
			}
			if len(parts) > 1 {
				price = "₺" + strings.TrimSpace(parts[1])
			}
		}
		candidates = append(candidates, Candidate{DisplayName: name, PriceText: price, Index: i})
	}
	return candidates
}

// AddByIndex clicks the counter button at index. For quantity above one the
// second counter is clicked: after the first add the grid re-renders the
// product's controls as [minus, plus].
func (g *Getir) AddByIndex(ctx context.Context, index, quantity int) bool {
	if !g.started() {
		return false
	}

	counters := g.elements(ctx, getirCounterSel)
	if len(counters) == 0 {
		logging.Browser("[getir] no counter buttons found")
		return false
	}
	index = clampIndex(ProviderGetir, index, len(counters))

	btn := counters[index]
	if vis, err := btn.Visible(); err != nil || !vis {
		logging.Browser("[getir] counter button not visible at index %d", index)
		return false
	}
	if err := clickElement(btn); err != nil {
		logging.Browser("[getir] click counter %d failed: %v", index, err)
		return false
	}
	sleepCtx(ctx, 500*time.Millisecond)

	for i := 1; i < quantity; i++ {
		sleepCtx(ctx, 300*time.Millisecond)
		counters = g.elements(ctx, getirCounterSel)
		if len(counters) < 2 {
			break
		}
		plus := counters[1]
		if vis, err := plus.Visible(); err != nil || !vis {
			break
		}
		if err := clickElement(plus); err != nil {
			break
		}
		logging.Browser("[getir] quantity increased to %d", i+1)
	}
	return true
}

// AddProductSmart composes search, extraction, selection, and add.
func (g *Getir) AddProductSmart(ctx context.Context, term string, quantity int, preference string) bool {
	return addProductSmart(ctx, g, g.chooser, g.history, term, quantity, preference)
}

// ClearCart opens the basket and clicks "Sepeti temizle", confirming the
// dialog when one appears. A missing button means the cart is already empty.
func (g *Getir) ClearCart(ctx context.Context) bool {
	if !g.started() {
		return false
	}
	if err := g.navigate(ctx, g.prov.BaseURL+"/sepet/", 2*time.Second); err != nil {
		logging.Browser("[getir] clear cart navigation failed: %v", err)
		return false
	}

	btn, visible := g.firstVisible(ctx, []selectorStrategy{byText("button, a, div, span", "Sepeti temizle")}, 3*time.Second)
	if !visible {
		logging.Browser("[getir] cart is already empty")
		return true
	}
	if err := clickElement(btn); err != nil {
		logging.Browser("[getir] clear cart click failed: %v", err)
		return false
	}
	sleepCtx(ctx, time.Second)

	if confirm, visible := g.firstVisible(ctx, []selectorStrategy{byText("button", "Evet")}, 2*time.Second); visible {
		_ = clickElement(confirm)
		sleepCtx(ctx, time.Second)
	}
	logging.Browser("[getir] cart cleared")
	return true
}

// OpenCart navigates to the basket for manual checkout.
func (g *Getir) OpenCart(ctx context.Context) {
	if !g.started() {
		return
	}
	if err := g.navigate(ctx, g.prov.BaseURL+"/sepet/", time.Second); err != nil {
		logging.Browser("[getir] open cart failed: %v", err)
	}
}

// CartCount reads the cart badge.
func (g *Getir) CartCount(ctx context.Context) int {
	if !g.started() {
		return 0
	}
	badge, visible := g.firstVisible(ctx, []selectorStrategy{
		css("[class*='cart'] [class*='badge']"),
		css("[class*='Cart'] [class*='count']"),
	}, 2*time.Second)
	if !visible {
		return 0
	}
	text, err := badge.Text()
	if err != nil {
		return 0
	}
	return parseBadgeCount(text)
}
