package services

import (
	"errors"
	"testing"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
)

func TestAuthorizeTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		current domain.OrderStatus
		target  domain.OrderStatus
		role    string
		wantErr error
	}{
		{"system confirms pending", domain.OrderStatusPending, domain.OrderStatusConfirmed, auth.RoleSystem, nil},
		{"user cancels pending", domain.OrderStatusPending, domain.OrderStatusCancelled, auth.RoleUser, nil},
		{"admin cancels pending", domain.OrderStatusPending, domain.OrderStatusCancelled, auth.RoleAdmin, nil},
		{"admin moves confirmed to processing", domain.OrderStatusConfirmed, domain.OrderStatusProcessing, auth.RoleAdmin, nil},
		{"user cancels confirmed", domain.OrderStatusConfirmed, domain.OrderStatusCancelled, auth.RoleUser, nil},
		{"admin ships processing", domain.OrderStatusProcessing, domain.OrderStatusShipped, auth.RoleAdmin, nil},
		{"admin delivers shipped", domain.OrderStatusShipped, domain.OrderStatusDelivered, auth.RoleAdmin, nil},
		{"system delivers shipped", domain.OrderStatusShipped, domain.OrderStatusDelivered, auth.RoleSystem, nil},
		{"admin refunds delivered", domain.OrderStatusDelivered, domain.OrderStatusRefunded, auth.RoleAdmin, nil},

		{"user may not confirm", domain.OrderStatusPending, domain.OrderStatusConfirmed, auth.RoleUser, ErrOrderForbidden},
		{"user may not ship", domain.OrderStatusProcessing, domain.OrderStatusShipped, auth.RoleUser, ErrOrderForbidden},
		{"user may not refund", domain.OrderStatusDelivered, domain.OrderStatusRefunded, auth.RoleUser, ErrOrderForbidden},
		{"system may not move confirmed to processing", domain.OrderStatusConfirmed, domain.OrderStatusProcessing, auth.RoleSystem, ErrOrderForbidden},

		{"shipped cannot be cancelled", domain.OrderStatusShipped, domain.OrderStatusCancelled, auth.RoleAdmin, ErrInvalidTransition},
		{"processing cannot be cancelled", domain.OrderStatusProcessing, domain.OrderStatusCancelled, auth.RoleAdmin, ErrInvalidTransition},
		{"pending cannot skip to shipped", domain.OrderStatusPending, domain.OrderStatusShipped, auth.RoleAdmin, ErrInvalidTransition},
		{"cancelled is terminal", domain.OrderStatusCancelled, domain.OrderStatusConfirmed, auth.RoleAdmin, ErrInvalidTransition},
		{"refunded is terminal", domain.OrderStatusRefunded, domain.OrderStatusPending, auth.RoleAdmin, ErrInvalidTransition},
		{"no-op transition rejected", domain.OrderStatusPending, domain.OrderStatusPending, auth.RoleAdmin, ErrInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := AuthorizeTransition(tc.current, tc.target, tc.role)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected transition to be allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestAuthorizeTransitionNormalisesRole(t *testing.T) {
	if err := AuthorizeTransition(domain.OrderStatusPending, domain.OrderStatusCancelled, "  Admin "); err != nil {
		t.Fatalf("role should be trimmed and lowercased: %v", err)
	}
}

func TestAuthorizePaymentTransition(t *testing.T) {
	cases := []struct {
		name    string
		current domain.PaymentStatus
		target  domain.PaymentStatus
		allowed bool
	}{
		{"pending to paid", domain.PaymentStatusPending, domain.PaymentStatusPaid, true},
		{"pending to failed", domain.PaymentStatusPending, domain.PaymentStatusFailed, true},
		{"paid to refunded", domain.PaymentStatusPaid, domain.PaymentStatusRefunded, true},
		{"pending to refunded", domain.PaymentStatusPending, domain.PaymentStatusRefunded, false},
		{"failed to paid", domain.PaymentStatusFailed, domain.PaymentStatusPaid, false},
		{"refunded to paid", domain.PaymentStatusRefunded, domain.PaymentStatusPaid, false},
		{"paid to paid", domain.PaymentStatusPaid, domain.PaymentStatusPaid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := AuthorizePaymentTransition(tc.current, tc.target)
			if tc.allowed && err != nil {
				t.Fatalf("expected transition to be allowed, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}
