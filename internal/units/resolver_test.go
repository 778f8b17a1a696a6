package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

func soap() domain.Product {
	return domain.Product{
		ID:    "soap",
		Name:  "Soap",
		Price: decimal.RequireFromString("1.50"),
		Units: []domain.Unit{
			{Name: "Box", Price: decimal.RequireFromString("16.00"), ConversionFactor: decimal.NewFromInt(12), Barcode: "8801"},
			{Name: "Broken", Price: decimal.NewFromInt(5), ConversionFactor: decimal.Zero},
		},
	}
}

func TestResolveBaseUnit(t *testing.T) {
	for _, name := range []string{"", "Piece", "  "} {
		r := Resolve(soap(), name)
		assert.Equal(t, domain.BaseUnit, r.Unit)
		assert.True(t, r.Price.Equal(decimal.RequireFromString("1.50")))
		assert.True(t, r.Conversion.Equal(decimal.NewFromInt(1)))
	}
}

func TestResolveNamedUnit(t *testing.T) {
	r := Resolve(soap(), "Box")
	assert.Equal(t, "Box", r.Unit)
	assert.True(t, r.Price.Equal(decimal.NewFromInt(16)))
	assert.True(t, r.Conversion.Equal(decimal.NewFromInt(12)))
}

func TestResolveUnknownUnitFallsBackToBase(t *testing.T) {
	for _, name := range []string{"Pallet", "box", "Broken"} {
		r := Resolve(soap(), name)
		assert.Equal(t, domain.BaseUnit, r.Unit, name)
		assert.True(t, r.Price.Equal(decimal.RequireFromString("1.50")), name)
		assert.True(t, r.Conversion.Equal(decimal.NewFromInt(1)), name)
	}
}

func TestByBarcode(t *testing.T) {
	r, ok := ByBarcode(soap(), "8801")
	assert.True(t, ok)
	assert.Equal(t, "Box", r.Unit)

	_, ok = ByBarcode(soap(), "0000")
	assert.False(t, ok)
}
