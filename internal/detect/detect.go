// Package detect turns fridge snapshots into a shopping list. The vision
// backend is pluggable behind the Detector interface; without one the service
// falls back to a static development list so ordering stays testable.
package detect

import (
	"context"
	"fmt"
	"sort"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// SearchTerms maps detector class names to the Turkish search terms the
// storefronts understand.
var SearchTerms = map[string]string{
	"milk":         "Süt",
	"eggs":         "Yumurta",
	"cheese":       "Peynir",
	"yogurt":       "Yoğurt",
	"butter":       "Tereyağı",
	"water_bottle": "Su",
	"soda":         "Gazlı İçecek",
	"juice":        "Meyve Suyu",
	"tomato":       "Domates",
	"cucumber":     "Salatalık",
	"pepper":       "Biber",
	"apple":        "Elma",
	"orange":       "Portakal",
	"lemon":        "Limon",
	"salami":       "Salam",
	"sausage":      "Sosis",
	"chicken":      "Tavuk",
	"fish":         "Balık",
	"cake":         "Pasta",
	"chocolate":    "Çikolata",
	"lettuce":      "Marul",
	"carrot":       "Havuç",
	"banana":       "Muz",
}

// ExpectedItems is the minimum stock of a well-provisioned fridge.
var ExpectedItems = map[string]int{
	"milk":         1,
	"eggs":         1,
	"water_bottle": 2,
	"cheese":       1,
}

// Detector counts products per class in a fridge image.
type Detector interface {
	Detect(ctx context.Context, imagePath string, threshold float64) (map[string]int, error)
}

// Service computes missing products from detections.
type Service struct {
	detector Detector
	expected map[string]int
}

// NewService creates a service. detector may be nil; the static fallback
// list is used then.
func NewService(detector Detector) *Service {
	return &Service{detector: detector, expected: ExpectedItems}
}

// SetExpected overrides the expected-stock table.
func (s *Service) SetExpected(expected map[string]int) {
	if len(expected) > 0 {
		s.expected = expected
	}
}

// MissingProducts is the main entry point. An empty image path (or an
// unconfigured detector) yields the static development list.
func (s *Service) MissingProducts(ctx context.Context, imagePath string, threshold float64) ([]catalog.DesiredItem, error) {
	if imagePath == "" || s.detector == nil {
		logging.Detect("no image or detector configured, using test products")
		return TestProducts(), nil
	}

	detected, err := s.detector.Detect(ctx, imagePath, threshold)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", imagePath, err)
	}
	logging.Detect("detected %d classes in %s", len(detected), imagePath)
	return Missing(detected, s.expected), nil
}

// Missing returns expected items whose detected count falls short, translated
// into search terms. Output is sorted by class name for stable results.
func Missing(detected, expected map[string]int) []catalog.DesiredItem {
	classes := make([]string, 0, len(expected))
	for class := range expected {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var missing []catalog.DesiredItem
	for _, class := range classes {
		needed := expected[class] - detected[class]
		if needed <= 0 {
			continue
		}
		term := SearchTerms[class]
		if term == "" {
			term = class
		}
		missing = append(missing, catalog.DesiredItem{
			CanonicalName: class,
			SearchTerm:    term,
			Quantity:      needed,
			Category:      class,
		})
	}
	return missing
}

// TestProducts is the static development shopping list.
func TestProducts() []catalog.DesiredItem {
	return []catalog.DesiredItem{
		{CanonicalName: "milk", SearchTerm: "Süt", Quantity: 1, Category: "dairy"},
		{CanonicalName: "eggs", SearchTerm: "Yumurta", Quantity: 1, Category: "dairy"},
		{CanonicalName: "bread", SearchTerm: "Ekmek", Quantity: 1, Category: "bakery"},
		{CanonicalName: "water_bottle", SearchTerm: "Su", Quantity: 2, Category: "beverages"},
	}
}
