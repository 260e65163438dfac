package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/clients/inventory"
	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/events"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrStockUnavailable indicates reservation failed and the saga compensated;
	// the order was left cancelled.
	ErrStockUnavailable = errors.New("checkout: stock unavailable")
	// ErrCompensationFailed indicates a release call failed after a reservation
	// failure. The order is still cancelled, but stock drifted and needs
	// manual reconciliation.
	ErrCompensationFailed = errors.New("checkout: stock release failed, manual reconciliation required")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Inventory   InventoryGateway
	Events      EventPublisher
	Pricing     PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	inventory InventoryGateway
	events    EventPublisher
	pricing   PricingPolicy
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		inventory: deps.Inventory,
		events:    deps.Events,
		pricing:   deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder runs the create-order saga. Steps, each a potential failure point:
// validate and price every line before any mutation, persist the order in
// pending as the durable record, reserve stock sequentially in request order,
// and confirm. A reservation failure releases the already-reserved lines in
// reverse order and leaves the order cancelled. A confirm that loses the
// version race against a concurrent cancellation releases everything and
// surfaces the conflict; it never wins silently.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if err := validatePlaceOrder(cmd); err != nil {
		return Order{}, err
	}

	items, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	totals, err := s.pricing.Quote(items)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		UserID:          cmd.Actor.ID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		Currency:        s.pricing.Currency,
		Totals:          totals,
		Version:         0,
		Notes:           strings.TrimSpace(cmd.Notes),
		Metadata:        ensureMetadata(cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.Metadata["paymentMethod"] = strings.TrimSpace(cmd.PaymentMethod)

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:          events.TypeOrderCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderVersion:  order.Version,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
	})

	if reserveErr := s.reserveStock(ctx, &order); reserveErr != nil {
		return s.abortAfterReservation(ctx, order, reserveErr)
	}

	confirmed, err := s.confirm(ctx, order)
	if err != nil {
		return Order{}, err
	}
	return confirmed, nil
}

// resolveItems prices every requested line from the catalog before any
// mutation. Any line that cannot be fully served aborts the saga fail-fast.
func (s *checkoutService) resolveItems(ctx context.Context, requested []OrderItemRequest) ([]OrderLineItem, error) {
	items := make([]OrderLineItem, 0, len(requested))
	for _, req := range requested {
		availability, err := s.inventory.CheckAvailability(ctx, req.ProductID, req.Quantity)
		if err != nil {
			switch {
			case errors.Is(err, inventory.ErrProductNotFound):
				return nil, fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, req.ProductID)
			case errors.Is(err, inventory.ErrUnavailable):
				return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
			}
			return nil, err
		}
		// A well-formed request for a product that cannot cover the quantity is
		// a stock condition, not a validation failure.
		if !availability.Available || availability.Stock < req.Quantity {
			return nil, fmt.Errorf("%w: product %s has %d in stock, requested %d",
				ErrStockUnavailable, req.ProductID, availability.Stock, req.Quantity)
		}

		items = append(items, OrderLineItem{
			ProductID: req.ProductID,
			Name:      availability.Name,
			SKU:       availability.SKU,
			Quantity:  req.Quantity,
			UnitPrice: availability.UnitPrice,
			Total:     availability.UnitPrice * int64(req.Quantity),
		})
	}
	return items, nil
}

// reserveStock decrements stock sequentially in request order. On a failure at
// line k it releases lines 1..k-1 in reverse order and reports what happened;
// sequencing matters because compensation depends on knowing exactly which
// lines succeeded.
func (s *checkoutService) reserveStock(ctx context.Context, order *Order) error {
	for idx, item := range order.Items {
		err := s.inventory.Reserve(ctx, order.ID, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}

		s.logger(ctx, "checkout.reserve.failed", map[string]any{
			"order":   order.ID,
			"product": item.ProductID,
			"error":   err.Error(),
		})

		var failed []string
		for i := idx - 1; i >= 0; i-- {
			reserved := order.Items[i]
			if releaseErr := s.inventory.Release(ctx, order.ID, reserved.ProductID, reserved.Quantity); releaseErr != nil {
				failed = append(failed, reserved.ProductID)
				s.logger(ctx, "checkout.release.failed", map[string]any{
					"order":   order.ID,
					"product": reserved.ProductID,
					"error":   releaseErr.Error(),
				})
			}
		}

		order.Metadata = ensureMetadata(order.Metadata)
		order.Metadata["reserveFailedProduct"] = item.ProductID
		if len(failed) > 0 {
			order.Metadata["stockReleaseFailed"] = failed
			return fmt.Errorf("%w: products %v", ErrCompensationFailed, failed)
		}
		return fmt.Errorf("%w: product %s", ErrStockUnavailable, item.ProductID)
	}
	return nil
}

// abortAfterReservation marks the order cancelled so it never sits pending
// forever, then surfaces the reservation failure. A compensation failure is
// kept on the returned error chain for operator follow-up; the cancelled
// order is still returned.
func (s *checkoutService) abortAfterReservation(ctx context.Context, order Order, reserveErr error) (Order, error) {
	now := s.clock()
	previous := order.Status
	applyStatus(&order, domain.OrderStatusCancelled, now)
	order.CancellationReason = "stock reservation failed"

	cancelled, err := s.orders.Update(ctx, order)
	if err != nil {
		s.logger(ctx, "checkout.cancel_after_reserve_failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return order, reserveErr
	}

	s.publishEvent(ctx, events.Event{
		Type:           events.TypeOrderCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		OrderVersion:   cancelled.Version,
		UserID:         cancelled.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(cancelled.Status),
		OccurredAt:     now,
	})

	return cancelled, reserveErr
}

// confirm applies pending -> confirmed against the version the order was
// created at. Losing the version race means a concurrent transition already
// landed; the reserved stock then belongs to nobody and is released in full.
func (s *checkoutService) confirm(ctx context.Context, order Order) (Order, error) {
	if err := AuthorizeTransition(order.Status, domain.OrderStatusConfirmed, auth.RoleSystem); err != nil {
		return Order{}, err
	}

	now := s.clock()
	previous := order.Status
	pending := order
	applyStatus(&order, domain.OrderStatusConfirmed, now)

	confirmed, err := s.orders.Update(ctx, order)
	if err != nil {
		mapped := mapRepositoryError(err)
		for i := len(order.Items) - 1; i >= 0; i-- {
			item := order.Items[i]
			if releaseErr := s.inventory.Release(ctx, order.ID, item.ProductID, item.Quantity); releaseErr != nil {
				s.logger(ctx, "checkout.confirm.release_failed", map[string]any{
					"order":   order.ID,
					"product": item.ProductID,
					"error":   releaseErr.Error(),
				})
			}
		}
		// On a conflict another transition already owns the order. Any other
		// failure would leave it pending forever, so try to park it cancelled;
		// if even that write fails the attempt is logged for reconciliation.
		if !errors.Is(mapped, ErrOrderConflict) {
			s.cancelUnconfirmed(ctx, pending, now)
		}
		return Order{}, mapped
	}

	s.publishEvent(ctx, events.Event{
		Type:           events.TypeOrderConfirmed,
		OrderID:        confirmed.ID,
		OrderNumber:    confirmed.OrderNumber,
		OrderVersion:   confirmed.Version,
		UserID:         confirmed.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(confirmed.Status),
		OccurredAt:     now,
	})

	return confirmed, nil
}

// cancelUnconfirmed parks an order whose confirmation write failed outright.
// The stock is already released, so the cancelled record is the accurate
// terminal state; events follow only if the write lands.
func (s *checkoutService) cancelUnconfirmed(ctx context.Context, pending Order, now time.Time) {
	previous := pending.Status
	applyStatus(&pending, domain.OrderStatusCancelled, now)
	pending.CancellationReason = "order confirmation failed"

	cancelled, err := s.orders.Update(ctx, pending)
	if err != nil {
		s.logger(ctx, "checkout.cancel_after_confirm_failed", map[string]any{
			"order": pending.ID,
			"error": err.Error(),
		})
		return
	}

	s.publishEvent(ctx, events.Event{
		Type:           events.TypeOrderCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		OrderVersion:   cancelled.Version,
		UserID:         cancelled.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(cancelled.Status),
		OccurredAt:     now,
	})
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, "orders-"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%06d", day, seq), nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validatePlaceOrder(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: product %s quantity must be positive", ErrOrderInvalidInput, item.ProductID)
		}
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.Street) == "" || strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.Country) == "" || strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping address requires street, city, country, and postal code", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	return nil
}
