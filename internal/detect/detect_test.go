package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
)

func TestMissing(t *testing.T) {
	expected := map[string]int{
		"milk":         1,
		"eggs":         1,
		"water_bottle": 2,
		"cheese":       1,
	}

	tests := []struct {
		name     string
		detected map[string]int
		want     []catalog.DesiredItem
	}{
		{
			name:     "empty fridge needs everything",
			detected: map[string]int{},
			want: []catalog.DesiredItem{
				{CanonicalName: "cheese", SearchTerm: "Peynir", Quantity: 1, Category: "cheese"},
				{CanonicalName: "eggs", SearchTerm: "Yumurta", Quantity: 1, Category: "eggs"},
				{CanonicalName: "milk", SearchTerm: "Süt", Quantity: 1, Category: "milk"},
				{CanonicalName: "water_bottle", SearchTerm: "Su", Quantity: 2, Category: "water_bottle"},
			},
		},
		{
			name:     "fully stocked needs nothing",
			detected: map[string]int{"milk": 1, "eggs": 12, "water_bottle": 3, "cheese": 1},
			want:     nil,
		},
		{
			name:     "partial shortfall orders the difference",
			detected: map[string]int{"milk": 1, "eggs": 1, "water_bottle": 1, "cheese": 1},
			want: []catalog.DesiredItem{
				{CanonicalName: "water_bottle", SearchTerm: "Su", Quantity: 1, Category: "water_bottle"},
			},
		},
		{
			name:     "surplus of one class does not offset another",
			detected: map[string]int{"milk": 5, "eggs": 1, "water_bottle": 2},
			want: []catalog.DesiredItem{
				{CanonicalName: "cheese", SearchTerm: "Peynir", Quantity: 1, Category: "cheese"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Missing(tt.detected, expected)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMissingUnknownClassKeepsName(t *testing.T) {
	got := Missing(map[string]int{}, map[string]int{"kombucha": 1})
	require.Len(t, got, 1)
	assert.Equal(t, "kombucha", got[0].SearchTerm)
}

type stubDetector struct {
	counts map[string]int
	err    error
	path   string
}

func (d *stubDetector) Detect(ctx context.Context, imagePath string, threshold float64) (map[string]int, error) {
	d.path = imagePath
	return d.counts, d.err
}

func TestServiceMissingProducts(t *testing.T) {
	t.Run("no image falls back to test products", func(t *testing.T) {
		svc := NewService(&stubDetector{counts: map[string]int{"milk": 1}})
		got, err := svc.MissingProducts(context.Background(), "", 0.5)
		require.NoError(t, err)
		assert.Equal(t, TestProducts(), got)
	})

	t.Run("no detector falls back to test products", func(t *testing.T) {
		svc := NewService(nil)
		got, err := svc.MissingProducts(context.Background(), "fridge.jpg", 0.5)
		require.NoError(t, err)
		assert.Equal(t, TestProducts(), got)
	})

	t.Run("detector result drives the list", func(t *testing.T) {
		det := &stubDetector{counts: map[string]int{"milk": 1, "eggs": 1, "water_bottle": 2, "cheese": 1}}
		svc := NewService(det)
		got, err := svc.MissingProducts(context.Background(), "fridge.jpg", 0.5)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, "fridge.jpg", det.path)
	})

	t.Run("detector error propagates", func(t *testing.T) {
		svc := NewService(&stubDetector{err: errors.New("model not loaded")})
		_, err := svc.MissingProducts(context.Background(), "fridge.jpg", 0.5)
		require.Error(t, err)
	})
}

func TestSearchTermsCoverExpectedItems(t *testing.T) {
	for class := range ExpectedItems {
		assert.Contains(t, SearchTerms, class)
	}
}
