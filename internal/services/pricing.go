package services

import (
	"errors"
	"fmt"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
)

// ErrPricingInvalidInput signals a line item the policy cannot price.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

const basisPointsDenominator = 10000

// PricingPolicy computes order totals as a pure function of the priced line
// items. Tax is a flat rate in basis points on the subtotal; shipping is a
// flat fee waived once the subtotal reaches the free-shipping threshold.
// Totals are computed once at order creation and never recomputed.
type PricingPolicy struct {
	TaxRateBasisPoints    int64
	ShippingFee           int64
	FreeShippingThreshold int64
	Currency              string
}

// Quote prices the given line items. Amounts are minor currency units.
func (p PricingPolicy) Quote(items []domain.OrderLineItem) (domain.OrderTotals, error) {
	if len(items) == 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: at least one line item is required", ErrPricingInvalidInput)
	}

	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.OrderTotals{}, fmt.Errorf("%w: product %s quantity must be positive", ErrPricingInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return domain.OrderTotals{}, fmt.Errorf("%w: product %s unit price cannot be negative", ErrPricingInvalidInput, item.ProductID)
		}
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	tax := int64(0)
	if p.TaxRateBasisPoints > 0 {
		tax = subtotal * p.TaxRateBasisPoints / basisPointsDenominator
	}

	shipping := p.ShippingFee
	if shipping < 0 {
		shipping = 0
	}
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		shipping = 0
	}

	totals := domain.OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: 0,
	}
	totals.Total = totals.Subtotal + totals.Tax + totals.Shipping - totals.Discount
	return totals, nil
}
