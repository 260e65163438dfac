package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
)

// transitionRule names the roles allowed to drive one edge of the status graph.
type transitionRule struct {
	target domain.OrderStatus
	roles  []string
}

// orderTransitions is the full status graph. An edge absent from this table is
// invalid for every role; an edge present but without the actor's role is
// forbidden. shipped orders cannot be cancelled: past that point the only way
// back is the refund path through delivered.
var orderTransitions = map[domain.OrderStatus][]transitionRule{
	domain.OrderStatusPending: {
		{target: domain.OrderStatusConfirmed, roles: []string{auth.RoleSystem}},
		{target: domain.OrderStatusCancelled, roles: []string{auth.RoleUser, auth.RoleAdmin}},
	},
	domain.OrderStatusConfirmed: {
		{target: domain.OrderStatusProcessing, roles: []string{auth.RoleAdmin}},
		{target: domain.OrderStatusCancelled, roles: []string{auth.RoleUser, auth.RoleAdmin}},
	},
	domain.OrderStatusProcessing: {
		{target: domain.OrderStatusShipped, roles: []string{auth.RoleAdmin}},
	},
	domain.OrderStatusShipped: {
		{target: domain.OrderStatusDelivered, roles: []string{auth.RoleAdmin, auth.RoleSystem}},
	},
	domain.OrderStatusDelivered: {
		{target: domain.OrderStatusRefunded, roles: []string{auth.RoleAdmin}},
	},
}

// paymentTransitions is the payment sub-state graph, independent of fulfilment.
var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusPaid:    {domain.PaymentStatusRefunded},
}

// AuthorizeTransition is the pure decision function for status changes: given
// the currently persisted status, the requested target, and the actor's role it
// either permits the edge or reports why it is rejected. It performs no I/O and
// is re-evaluated against fresh state on every request.
func AuthorizeTransition(current, target domain.OrderStatus, role string) error {
	if current == target {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, current)
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, current, target)
	}

	rules, ok := orderTransitions[current]
	if !ok {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
	}

	role = strings.ToLower(strings.TrimSpace(role))
	for _, rule := range rules {
		if rule.target != target {
			continue
		}
		if slices.Contains(rule.roles, role) {
			return nil
		}
		return fmt.Errorf("%w: role %q may not move an order from %s to %s", ErrOrderForbidden, role, current, target)
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
}

// AuthorizePaymentTransition validates a payment sub-state change. Only the
// edges pending->paid, pending->failed, and paid->refunded exist.
func AuthorizePaymentTransition(current, target domain.PaymentStatus) error {
	if current == target {
		return fmt.Errorf("%w: payment status is already %s", ErrInvalidTransition, current)
	}
	if slices.Contains(paymentTransitions[current], target) {
		return nil
	}
	return fmt.Errorf("%w: payment status %s to %s", ErrInvalidTransition, current, target)
}

// ValidOrderStatus reports whether the value names a known status.
func ValidOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
		domain.OrderStatusRefunded:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether the value names a known payment status.
func ValidPaymentStatus(status domain.PaymentStatus) bool {
	switch status {
	case domain.PaymentStatusPending, domain.PaymentStatusPaid,
		domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return true
	}
	return false
}
