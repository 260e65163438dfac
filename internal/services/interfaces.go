package services

import (
	"context"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/clients/inventory"
	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/events"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	OrderLineItem      = domain.OrderLineItem
	OrderTotals        = domain.OrderTotals
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// Actor is the authenticated caller a service operation runs on behalf of.
type Actor struct {
	ID   string
	Role string
}

// CheckoutService runs the create-order saga: availability checks, pricing
// snapshot, durable pending order, sequential stock reservation with reverse
// compensation, and confirmation.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService covers everything after creation: reads, the role-gated status
// transitions, cancellation with stock release, and payment sub-state updates.
type OrderService interface {
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentCommand) (Order, error)
}

// InventoryGateway is the slice of the inventory authority the saga needs.
// Reserve performs exactly one attempt; Release is idempotent per
// (order, product) and safe to retry.
type InventoryGateway interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (inventory.Availability, error)
	Reserve(ctx context.Context, orderID, productID string, quantity int) error
	Release(ctx context.Context, orderID, productID string, quantity int) error
}

// EventPublisher delivers lifecycle events after a transition has been
// committed. Publish failures must never roll back the transition.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

// OrderItemRequest is one requested line before pricing.
type OrderItemRequest struct {
	ProductID string
	Quantity  int
}

type PlaceOrderCommand struct {
	Actor           Actor
	Items           []OrderItemRequest
	ShippingAddress Address
	PaymentMethod   string
	Notes           string
	Metadata        map[string]any
}

type TransitionStatusCommand struct {
	Actor          Actor
	OrderID        string
	TargetStatus   OrderStatus
	Reason         string
	TrackingNumber string
}

type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

type UpdatePaymentCommand struct {
	Actor         Actor
	OrderID       string
	PaymentStatus PaymentStatus
	TransactionID string
}
