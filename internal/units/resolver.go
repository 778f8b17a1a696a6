package units

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

// Resolution is the priced form of a product in one sellable unit.
type Resolution struct {
	Unit       string
	Price      decimal.Decimal
	Conversion decimal.Decimal
}

func base(p domain.Product) Resolution {
	return Resolution{Unit: domain.BaseUnit, Price: p.Price, Conversion: decimal.NewFromInt(1)}
}

// Resolve returns the price and stock conversion for unitName. Unknown or
// malformed units fall back to the base unit rather than failing the sale.
func Resolve(p domain.Product, unitName string) Resolution {
	name := strings.TrimSpace(unitName)
	if name == "" || name == domain.BaseUnit {
		return base(p)
	}
	for _, u := range p.Units {
		if u.Name != name {
			continue
		}
		if !u.ConversionFactor.IsPositive() {
			break
		}
		return Resolution{Unit: u.Name, Price: u.Price, Conversion: u.ConversionFactor}
	}
	return base(p)
}

// ByBarcode finds the packaging unit a scanned barcode belongs to.
func ByBarcode(p domain.Product, code string) (Resolution, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Resolution{}, false
	}
	for _, u := range p.Units {
		if u.Barcode == code && u.ConversionFactor.IsPositive() {
			return Resolution{Unit: u.Name, Price: u.Price, Conversion: u.ConversionFactor}, true
		}
	}
	return Resolution{}, false
}
