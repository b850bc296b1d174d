package catalog

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// Akbal drives the Akbal Market storefront, a stock Magento theme. There is
// no account system: IsAuthenticated is always true and the adapter does not
// implement Sessioned.
type Akbal struct {
	*session
}

const akbalCardSel = ".product-item, .item.product-item"

var (
	akbalNameFields = []selectorStrategy{
		css(".product-item-link"),
		css(".product-item-name a"),
		css(".product-item-name"),
		css("a.product-item-link"),
	}
	akbalPriceFields = []selectorStrategy{
		css(".price"),
		css(".price-wrapper .price"),
		css("[data-price-type='finalPrice'] .price"),
		css(".special-price .price"),
		css(".regular-price .price"),
	}
	akbalAddButtons = []selectorStrategy{
		css("button.tocart"),
		css("button.action.tocart"),
		css("button[title='Sepete Ekle']"),
		byText("button", "Sepete Ekle"),
		css(".action.tocart.primary"),
		css("form button[type='submit']"),
	}
)

// NewAkbal creates the Akbal adapter with a stealth page.
func NewAkbal(cfg config.Config, chooser Chooser, history HistoryProvider) *Akbal {
	return &Akbal{session: newSession(ProviderAkbal, cfg, cfg.Providers.Akbal, true, chooser, history)}
}

func (a *Akbal) Provider() Provider { return ProviderAkbal }

// IsAuthenticated always reports true; the storefront has no login.
func (a *Akbal) IsAuthenticated(ctx context.Context) bool {
	return a.started()
}

// Search loads the Magento catalogsearch result page for the term.
func (a *Akbal) Search(ctx context.Context, term string) bool {
	if !a.started() {
		return false
	}
	logging.Browser("[akbal] searching for %q", term)

	searchURL := fmt.Sprintf("%s?q=%s", a.prov.SearchURL, url.QueryEscape(term))
	if err := a.navigate(ctx, searchURL, 2*time.Second); err != nil {
		logging.Browser("[akbal] search navigation failed: %v", err)
		return false
	}

	if _, visible := a.firstVisible(ctx, []selectorStrategy{css(akbalCardSel)}, 5*time.Second); visible {
		return true
	}
	logging.Browser("[akbal] no products found for %q", term)
	return false
}

// ListCandidates scrapes the Magento product grid.
func (a *Akbal) ListCandidates(ctx context.Context, limit int) []Candidate {
	if !a.started() {
		return nil
	}
	sleepCtx(ctx, time.Second)

	cards := a.elements(ctx, akbalCardSel)
	logging.Browser("[akbal] found %d products on page", len(cards))
	if len(cards) == 0 {
		return nil
	}
	if len(cards) > limit {
		cards = cards[:limit]
	}

	candidates := make([]Candidate, 0, len(cards))
	for i, card := range cards {
		name := fieldText(card, akbalNameFields, 500*time.Millisecond)
		if name == "" {
			name = fmt.Sprintf("Product %d", i+1)
		}
		price := fieldText(card, akbalPriceFields, 500*time.Millisecond)
		if price == "" {
			price = "N/A"
		}
		candidates = append(candidates, Candidate{DisplayName: truncateName(name), PriceText: price, Index: i})
	}
	return candidates
}

// AddByIndex clicks the card's tocart button. Extra quantity re-clicks the
// same button; Magento increments the line item on each submit.
func (a *Akbal) AddByIndex(ctx context.Context, index, quantity int) bool {
	if !a.started() {
		return false
	}

	cards := a.elements(ctx, akbalCardSel)
	if len(cards) == 0 {
		logging.Browser("[akbal] no products found")
		return false
	}
	index = clampIndex(ProviderAkbal, index, len(cards))
	card := cards[index]

	btn, visible := cardElement(card, akbalAddButtons, time.Second)
	if !visible {
		logging.Browser("[akbal] could not find add to cart button at index %d", index)
		return false
	}
	if err := clickElement(btn); err != nil {
		logging.Browser("[akbal] add to cart click failed: %v", err)
		return false
	}
	sleepCtx(ctx, time.Second)

	for i := 1; i < quantity; i++ {
		sleepCtx(ctx, 500*time.Millisecond)
		btn, visible := cardElement(card, akbalAddButtons, time.Second)
		if !visible {
			break
		}
		if err := clickElement(btn); err != nil {
			break
		}
		logging.Browser("[akbal] added another (qty: %d)", i+1)
		sleepCtx(ctx, 500*time.Millisecond)
	}
	return true
}

// AddProductSmart composes search, extraction, selection, and add.
func (a *Akbal) AddProductSmart(ctx context.Context, term string, quantity int, preference string) bool {
	return addProductSmart(ctx, a, a.chooser, a.history, term, quantity, preference)
}

// ClearCart removes line items one by one; Magento has no bulk clear. The
// delete anchors are re-queried after each removal because the cart page
// reloads.
func (a *Akbal) ClearCart(ctx context.Context) bool {
	if !a.started() {
		return false
	}
	if err := a.navigate(ctx, a.prov.BaseURL+"/checkout/cart/", 2*time.Second); err != nil {
		logging.Browser("[akbal] clear cart navigation failed: %v", err)
		return false
	}

	const removeSel = "a.action-delete, .action.delete, a[title='Sil']"
	removed := 0
	total := len(a.elements(ctx, removeSel))
	if total == 0 {
		logging.Browser("[akbal] cart is already empty")
		return true
	}

	for i := 0; i < total; i++ {
		btns := a.elements(ctx, removeSel)
		if len(btns) == 0 {
			break
		}
		if err := clickElement(btns[0]); err != nil {
			logging.Browser("[akbal] remove click failed: %v", err)
			break
		}
		removed++
		sleepCtx(ctx, time.Second)
	}
	logging.Browser("[akbal] removed %d items from cart", removed)
	return true
}

// OpenCart navigates to the cart page for manual checkout.
func (a *Akbal) OpenCart(ctx context.Context) {
	if !a.started() {
		return
	}
	if err := a.navigate(ctx, a.prov.BaseURL+"/checkout/cart/", time.Second); err != nil {
		logging.Browser("[akbal] open cart failed: %v", err)
	}
}

// CartCount reads the minicart counter.
func (a *Akbal) CartCount(ctx context.Context) int {
	if !a.started() {
		return 0
	}
	badge, visible := a.firstVisible(ctx, []selectorStrategy{
		css(".counter-number, .minicart-wrapper .counter-number"),
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
