package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Calculate derives cart totals under an inclusive GST rate (percent) with a flat
// discount. The discount reduces the taxable and zero-tax shares pro-rata, so
// zero-tax lines never carry GST.
func Calculate(items []domain.CartItem, rate decimal.Decimal, discount decimal.Decimal) domain.Totals {
	taxable := decimal.Zero
	zeroTax := decimal.Zero
	for _, item := range items {
		if item.Qty <= 0 {
			continue
		}
		if item.Product.IsZeroTax {
			zeroTax = zeroTax.Add(item.LineTotal())
		} else {
			taxable = taxable.Add(item.LineTotal())
		}
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	subtotalNoDiscount := taxable.Add(zeroTax)
	grandTotal := decimal.Max(decimal.Zero, subtotalNoDiscount.Sub(discount))

	gst := decimal.Zero
	if subtotalNoDiscount.IsPositive() && taxable.IsPositive() {
		taxablePart := grandTotal.Mul(taxable).Div(subtotalNoDiscount)
		gst = taxablePart.Sub(taxablePart.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))))
	}

	return domain.Totals{
		TaxableTotal:       taxable,
		ZeroTaxTotal:       zeroTax,
		SubtotalNoDiscount: subtotalNoDiscount,
		Discount:           subtotalNoDiscount.Sub(grandTotal),
		GrandTotal:         grandTotal,
		GSTAmount:          gst,
		Subtotal:           grandTotal.Sub(gst),
	}
}

// Calculator binds a GST rate so callers only supply items and discount.
type Calculator struct {
	Rate decimal.Decimal
}

func NewCalculator(rate decimal.Decimal) Calculator {
	return Calculator{Rate: rate}
}

func (c Calculator) Totals(items []domain.CartItem, discount decimal.Decimal) domain.Totals {
	return Calculate(items, c.Rate, discount)
}

// MaxRedeemable caps a redemption at the points held and at the whole currency
// units of the undiscounted subtotal.
func MaxRedeemable(points int64, subtotalNoDiscount decimal.Decimal) int64 {
	if points <= 0 || !subtotalNoDiscount.IsPositive() {
		return 0
	}
	ceiling := subtotalNoDiscount.Floor().IntPart()
	if points < ceiling {
		return points
	}
	return ceiling
}

// PointsEarned awards one point per full divisor of the grand total.
func PointsEarned(grandTotal decimal.Decimal, divisor decimal.Decimal) int64 {
	if !divisor.IsPositive() || !grandTotal.IsPositive() {
		return 0
	}
	return grandTotal.Div(divisor).Floor().IntPart()
}

// Round2 rounds for display, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
