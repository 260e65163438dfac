package services

import (
	"errors"
	"testing"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
)

func testPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRateBasisPoints:    800,
		ShippingFee:           1000,
		FreeShippingThreshold: 10000,
		Currency:              "USD",
	}
}

func TestQuoteComputesTotals(t *testing.T) {
	totals, err := testPolicy().Quote([]domain.OrderLineItem{
		{ProductID: "prod-1", Quantity: 2, UnitPrice: 1500},
		{ProductID: "prod-2", Quantity: 1, UnitPrice: 2000},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if totals.Subtotal != 5000 {
		t.Errorf("subtotal = %d, want 5000", totals.Subtotal)
	}
	if totals.Tax != 400 {
		t.Errorf("tax = %d, want 400", totals.Tax)
	}
	if totals.Shipping != 1000 {
		t.Errorf("shipping = %d, want 1000", totals.Shipping)
	}
	if totals.Discount != 0 {
		t.Errorf("discount = %d, want 0", totals.Discount)
	}
	if got := totals.Subtotal + totals.Tax + totals.Shipping - totals.Discount; totals.Total != got {
		t.Errorf("total = %d, breakdown sums to %d", totals.Total, got)
	}
	if totals.Total != 6400 {
		t.Errorf("total = %d, want 6400", totals.Total)
	}
}

func TestQuoteWaivesShippingAboveThreshold(t *testing.T) {
	totals, err := testPolicy().Quote([]domain.OrderLineItem{
		{ProductID: "prod-1", Quantity: 4, UnitPrice: 2500},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if totals.Shipping != 0 {
		t.Errorf("shipping = %d, want 0 at threshold", totals.Shipping)
	}
	if totals.Total != 10800 {
		t.Errorf("total = %d, want 10800", totals.Total)
	}
}

func TestQuoteZeroRatePolicy(t *testing.T) {
	policy := PricingPolicy{Currency: "USD"}
	totals, err := policy.Quote([]domain.OrderLineItem{
		{ProductID: "prod-1", Quantity: 1, UnitPrice: 999},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if totals.Total != 999 || totals.Tax != 0 || totals.Shipping != 0 {
		t.Errorf("unexpected totals %+v", totals)
	}
}

func TestQuoteRejectsInvalidItems(t *testing.T) {
	policy := testPolicy()

	if _, err := policy.Quote(nil); !errors.Is(err, ErrPricingInvalidInput) {
		t.Errorf("empty items: expected ErrPricingInvalidInput, got %v", err)
	}
	if _, err := policy.Quote([]domain.OrderLineItem{{ProductID: "p", Quantity: 0, UnitPrice: 100}}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Errorf("zero quantity: expected ErrPricingInvalidInput, got %v", err)
	}
	if _, err := policy.Quote([]domain.OrderLineItem{{ProductID: "p", Quantity: 1, UnitPrice: -1}}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Errorf("negative price: expected ErrPricingInvalidInput, got %v", err)
	}
}
