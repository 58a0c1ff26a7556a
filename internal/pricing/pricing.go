// Package pricing computes cart and order totals in integer minor currency
// units (paise).
package pricing

import (
	"fmt"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	FreeShippingThreshold int64 = 50000 // ₹500.00
	FlatShippingFee       int64 = 5000  // ₹50.00
)

// TaxRate is applied to the subtotal and rounded half-up to the nearest paisa.
var TaxRate = decimal.RequireFromString("0.08")

type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

func ComputeTotals(items []domain.LineItem) (Totals, error) {
	var subtotal int64
	for _, it := range items {
		if it.UnitPrice < 0 || it.Quantity <= 0 {
			return Totals{}, fmt.Errorf("%w: product %s price=%d qty=%d",
				domain.ErrInvalidLineItem, it.ProductID, it.UnitPrice, it.Quantity)
		}
		subtotal += it.UnitPrice * int64(it.Quantity)
	}

	tax := Tax(subtotal)
	shipping := Shipping(subtotal)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal + tax + shipping,
	}, nil
}

func Tax(subtotal int64) int64 {
	// Round(0) rounds half away from zero, which is half-up for subtotal >= 0.
	return decimal.NewFromInt(subtotal).Mul(TaxRate).Round(0).IntPart()
}

func Shipping(subtotal int64) int64 {
	if subtotal == 0 || subtotal >= FreeShippingThreshold {
		return 0
	}
	return FlatShippingFee
}
