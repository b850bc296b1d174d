package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// Migros drives the Migros Sanal Market storefront. The site runs bot
// detection and interrupts with consent and delivery-method popups, so every
// page entry goes through dismissPopups.
type Migros struct {
	*session
}

const migrosCardSel = "[data-monitor-product], .product-card, article[class*='product']"

var (
	migrosNameFields = []selectorStrategy{
		css("[data-monitor-name]"),
		css(".product-name"),
		css("[class*='ProductName']"),
		css("h5"),
		css("[class*='name']"),
	}
	migrosPriceFields = []selectorStrategy{
		css("[data-monitor-price]"),
		css(".product-price"),
		css("[class*='Price']"),
		css("[class*='price']"),
		css(".amount"),
	}
	migrosAddButtons = []selectorStrategy{
		byText("button", "Sepete Ekle"),
		css("[data-testid='add-to-cart']"),
		css("[class*='add-to-cart']"),
		css("button[class*='AddToCart']"),
		css(".add-button"),
		byText("button", "Ekle"),
	}
)

// NewMigros creates the Migros adapter with a stealth page.
func NewMigros(cfg config.Config, chooser Chooser, history HistoryProvider) *Migros {
	return &Migros{session: newSession(ProviderMigros, cfg, cfg.Providers.Migros, true, chooser, history)}
}

func (m *Migros) Provider() Provider { return ProviderMigros }

// dismissPopups closes the cookie consent banner and picks home delivery
// when the delivery-method chooser blocks the page.
func (m *Migros) dismissPopups(ctx context.Context) {
	if btn, visible := m.firstVisible(ctx, []selectorStrategy{
		byText("button", "Kabul Et"),
	}, 3*time.Second); visible {
		_ = clickElement(btn)
		sleepCtx(ctx, 500*time.Millisecond)
	}

	if btn, visible := m.firstVisible(ctx, []selectorStrategy{
		byText("button", "Adresime Gelsin"),
		css("[data-testid='delivery-type-home']"),
	}, 2*time.Second); visible {
		_ = clickElement(btn)
		sleepCtx(ctx, 500*time.Millisecond)
	}
}

// IsAuthenticated loads the home surface; a visible "Giriş Yap" control
// means logged out.
func (m *Migros) IsAuthenticated(ctx context.Context) bool {
	if !m.started() {
		return false
	}
	if err := m.navigate(ctx, m.prov.BaseURL, 2*time.Second); err != nil {
		logging.Browser("[migros] auth check navigation failed: %v", err)
		return false
	}
	m.dismissPopups(ctx)

	if _, visible := m.firstVisible(ctx, []selectorStrategy{byText("button, a", "Giriş Yap")}, 3*time.Second); visible {
		return false
	}
	return true
}

// OpenLogin brings up the home page with popups dismissed so the operator
// can log in by hand.
func (m *Migros) OpenLogin(ctx context.Context) error {
	if !m.started() {
		return ErrNotStarted
	}
	if err := m.navigate(ctx, m.prov.BaseURL, 2*time.Second); err != nil {
		return err
	}
	m.dismissPopups(ctx)
	return nil
}

// Search uses the /arama?q= URL directly; the search bar is flaky under
// automation while URL search always renders the grid.
func (m *Migros) Search(ctx context.Context, term string) bool {
	if !m.started() {
		return false
	}
	logging.Browser("[migros] searching for %q", term)

	searchURL := fmt.Sprintf("%s?q=%s", m.prov.SearchURL, url.QueryEscape(term))
	if err := m.navigate(ctx, searchURL, 2*time.Second); err != nil {
		logging.Browser("[migros] search navigation failed: %v", err)
		return false
	}
	m.dismissPopups(ctx)

	if _, visible := m.firstVisible(ctx, []selectorStrategy{css(migrosCardSel)}, 5*time.Second); visible {
		return true
	}
	logging.Browser("[migros] no products found for %q", term)
	return false
}

// ListCandidates scrapes the product cards. Name and price each fall through
// a selector chain; a card whose name cannot be isolated degrades to its
// whole text, then to a positional placeholder.
func (m *Migros) ListCandidates(ctx context.Context, limit int) []Candidate {
	if !m.started() {
		return nil
	}
	sleepCtx(ctx, 2*time.Second)

	cards := m.elements(ctx, migrosCardSel)
	logging.Browser("[migros] found %d products on page", len(cards))
	if len(cards) == 0 {
		return nil
	}
	if len(cards) > limit {
		cards = cards[:limit]
	}

	candidates := make([]Candidate, 0, len(cards))
	for i, card := range cards {
		name := fieldText(card, migrosNameFields, 500*time.Millisecond)
		if name == "" {
			if text, err := card.Text(); err == nil && strings.TrimSpace(text) != "" {
				name = strings.TrimSpace(text)
			} else {
				name = fmt.Sprintf("Product %d", i+1)
			}
		}

		price := fieldText(card, migrosPriceFields, 500*time.Millisecond)
		if price == "" {
			price = "N/A"
		}

		candidates = append(candidates, Candidate{DisplayName: truncateName(name), PriceText: price, Index: i})
	}
	return candidates
}

// AddByIndex clicks the card's add-to-cart control. Cards without an inline
// button get the modal fallback: click the card, add from the product modal.
func (m *Migros) AddByIndex(ctx context.Context, index, quantity int) bool {
	if !m.started() {
		return false
	}

	cards := m.elements(ctx, migrosCardSel)
	if len(cards) == 0 {
		logging.Browser("[migros] no products found")
		return false
	}
	index = clampIndex(ProviderMigros, index, len(cards))
	card := cards[index]

	clicked := false
	if btn, visible := cardElement(card, migrosAddButtons, time.Second); visible {
		if err := clickElement(btn); err == nil {
			clicked = true
			sleepCtx(ctx, 500*time.Millisecond)
		}
	}

	if !clicked {
		// Some layouts only expose add-to-cart inside the product modal.
		if err := clickElement(card); err == nil {
			sleepCtx(ctx, time.Second)
			if modal, visible := m.firstVisible(ctx, []selectorStrategy{byText("button", "Sepete Ekle")}, 3*time.Second); visible {
				if err := clickElement(modal); err == nil {
					clicked = true
					logging.Browser("[migros] added via product modal")
					sleepCtx(ctx, 500*time.Millisecond)
				}
			}
		}
	}

	if !clicked {
		logging.Browser("[migros] could not find add to cart button at index %d", index)
		return false
	}

	for i := 1; i < quantity; i++ {
		sleepCtx(ctx, 300*time.Millisecond)
		plus, visible := m.firstVisible(ctx, []selectorStrategy{
			byText("button", `\+`),
			css("[data-testid='increment']"),
			css(".increment-btn"),
		}, 2*time.Second)
		if !visible {
			break
		}
		if err := clickElement(plus); err != nil {
			break
		}
		logging.Browser("[migros] quantity increased to %d", i+1)
	}
	return true
}

// AddProductSmart composes search, extraction, selection, and add.
func (m *Migros) AddProductSmart(ctx context.Context, term string, quantity int, preference string) bool {
	return addProductSmart(ctx, m, m.chooser, m.history, term, quantity, preference)
}

// ClearCart opens the basket and tries the bulk-clear controls, confirming
// the dialog. No control visible is treated as an empty cart.
func (m *Migros) ClearCart(ctx context.Context) bool {
	if !m.started() {
		return false
	}
	if err := m.navigate(ctx, m.prov.BaseURL+"/sepetim", 2*time.Second); err != nil {
		logging.Browser("[migros] clear cart navigation failed: %v", err)
		return false
	}

	clearControls := []selectorStrategy{
		byText("button", "Sepeti Boşalt"),
		byText("button", "Tümünü Sil"),
		css("[data-testid='clear-cart']"),
		css(".clear-cart"),
	}
	btn, visible := m.firstVisible(ctx, clearControls, 2*time.Second)
	if !visible {
		logging.Browser("[migros] cart may already be empty")
		return true
	}
	if err := clickElement(btn); err != nil {
		logging.Browser("[migros] clear cart click failed: %v", err)
		return false
	}
	sleepCtx(ctx, time.Second)

	if confirm, visible := m.firstVisible(ctx, []selectorStrategy{
		byText("button", "Evet"),
		byText("button", "Onayla"),
	}, 2*time.Second); visible {
		_ = clickElement(confirm)
		sleepCtx(ctx, time.Second)
	}
	logging.Browser("[migros] cart cleared")
	return true
}

// OpenCart navigates to the basket for manual checkout.
func (m *Migros) OpenCart(ctx context.Context) {
	if !m.started() {
		return
	}
	if err := m.navigate(ctx, m.prov.BaseURL+"/sepetim", time.Second); err != nil {
		logging.Browser("[migros] open cart failed: %v", err)
	}
}

// CartCount reads the cart badge.
func (m *Migros) CartCount(ctx context.Context) int {
	if !m.started() {
		return 0
	}
	badge, visible := m.firstVisible(ctx, []selectorStrategy{
		css("[data-testid='cart-count'], .cart-count, .basket-count"),
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
