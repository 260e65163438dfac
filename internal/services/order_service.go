package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/events"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located by this caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor's role does not permit the operation.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrInvalidTransition indicates a status change the state machine rejects.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates an optimistic concurrency conflict; callers
	// should re-read the order and retry against fresh state.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrExternalService indicates a collaborator stayed unreachable after the
	// retry budget was exhausted.
	ErrExternalService = errors.New("order: external service unavailable")
)

// statusEventTypes maps each committed status to the lifecycle event it emits.
var statusEventTypes = map[domain.OrderStatus]string{
	domain.OrderStatusConfirmed:  events.TypeOrderConfirmed,
	domain.OrderStatusProcessing: events.TypeOrderProcessing,
	domain.OrderStatusShipped:    events.TypeOrderShipped,
	domain.OrderStatusDelivered:  events.TypeOrderDelivered,
	domain.OrderStatusCancelled:  events.TypeOrderCancelled,
	domain.OrderStatusRefunded:   events.TypeOrderRefunded,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory InventoryGateway
	Events    EventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryGateway
	events    EventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	// Non-privileged callers must not learn whether a foreign order exists.
	if !isPrivileged(actor.Role) && order.UserID != actor.ID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !ValidOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	if !isPrivileged(actor.Role) {
		filter.UserID = actor.ID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !ValidOrderStatus(cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if err := AuthorizeTransition(order.Status, cmd.TargetStatus, cmd.Actor.Role); err != nil {
		return Order{}, err
	}
	if cmd.TargetStatus == domain.OrderStatusRefunded && order.PaymentStatus != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: refund requires payment status %s, order has %s",
			ErrInvalidTransition, domain.PaymentStatusPaid, order.PaymentStatus)
	}

	now := s.clock()
	previous := order.Status
	applyStatus(&order, cmd.TargetStatus, now)
	if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
		order.TrackingNumber = tracking
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" && cmd.TargetStatus == domain.OrderStatusCancelled {
		order.CancellationReason = reason
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.publishStatusEvent(ctx, updated, previous)
	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if !isPrivileged(cmd.Actor.Role) && order.UserID != cmd.Actor.ID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if err := AuthorizeTransition(order.Status, domain.OrderStatusCancelled, cmd.Actor.Role); err != nil {
		return Order{}, err
	}

	now := s.clock()
	previous := order.Status
	applyStatus(&order, domain.OrderStatusCancelled, now)
	order.CancellationReason = strings.TrimSpace(cmd.Reason)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	// Stock is held from confirmation onward; a cancelled pending order never
	// reserved anything.
	if previous == domain.OrderStatusConfirmed {
		s.releaseReservedStock(ctx, &updated)
	}

	s.publishStatusEvent(ctx, updated, previous)
	return updated, nil
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !ValidPaymentStatus(cmd.PaymentStatus) {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}
	if !isPrivileged(cmd.Actor.Role) {
		return Order{}, fmt.Errorf("%w: payment updates require an admin or system actor", ErrOrderForbidden)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if err := AuthorizePaymentTransition(order.PaymentStatus, cmd.PaymentStatus); err != nil {
		return Order{}, err
	}

	now := s.clock()
	order.PaymentStatus = cmd.PaymentStatus
	order.UpdatedAt = now
	if cmd.PaymentStatus == domain.PaymentStatusPaid {
		order.PaidAt = &now
		if tx := strings.TrimSpace(cmd.TransactionID); tx != "" {
			order.PaymentTransactionID = tx
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	switch cmd.PaymentStatus {
	case domain.PaymentStatusPaid:
		s.publishEvent(ctx, events.Event{
			Type:          events.TypePaymentCompleted,
			OrderID:       updated.ID,
			OrderNumber:   updated.OrderNumber,
			OrderVersion:  updated.Version,
			UserID:        updated.UserID,
			CurrentStatus: string(updated.Status),
			OccurredAt:    now,
			Payload:       map[string]any{"transaction_id": updated.PaymentTransactionID},
		})
	case domain.PaymentStatusFailed:
		s.publishEvent(ctx, events.Event{
			Type:          events.TypePaymentFailed,
			OrderID:       updated.ID,
			OrderNumber:   updated.OrderNumber,
			OrderVersion:  updated.Version,
			UserID:        updated.UserID,
			CurrentStatus: string(updated.Status),
			OccurredAt:    now,
		})
	case domain.PaymentStatusRefunded:
		s.publishEvent(ctx, events.Event{
			Type:          events.TypeOrderRefunded,
			OrderID:       updated.ID,
			OrderNumber:   updated.OrderNumber,
			OrderVersion:  updated.Version,
			UserID:        updated.UserID,
			CurrentStatus: string(updated.Status),
			OccurredAt:    now,
			Payload:       map[string]any{"transaction_id": updated.PaymentTransactionID},
		})
	}

	return updated, nil
}

// releaseReservedStock returns every line's reserved quantity in reverse
// request order. Release is idempotent server-side, so a partial failure is
// recorded for reconciliation rather than blocking the committed cancellation.
func (s *orderService) releaseReservedStock(ctx context.Context, order *Order) {
	if s.inventory == nil {
		return
	}

	var failed []string
	for i := len(order.Items) - 1; i >= 0; i-- {
		item := order.Items[i]
		if err := s.inventory.Release(ctx, order.ID, item.ProductID, item.Quantity); err != nil {
			failed = append(failed, item.ProductID)
			s.logger(ctx, "order.cancel.release_failed", map[string]any{
				"order":   order.ID,
				"product": item.ProductID,
				"error":   err.Error(),
			})
		}
	}
	if len(failed) == 0 {
		return
	}

	order.Metadata = ensureMetadata(order.Metadata)
	order.Metadata["stockReleaseFailed"] = failed
	reconciled, err := s.orders.Update(ctx, *order)
	if err != nil {
		s.logger(ctx, "order.cancel.reconciliation_record_failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}
	*order = reconciled
}

func (s *orderService) publishStatusEvent(ctx context.Context, order Order, previous domain.OrderStatus) {
	eventType, ok := statusEventTypes[order.Status]
	if !ok {
		return
	}
	s.publishEvent(ctx, events.Event{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		OrderVersion:   order.Version,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		OccurredAt:     order.UpdatedAt,
	})
}

// publishEvent reports delivery failures to the log only: the persisted order
// is the source of truth, and a missed event is recovered by re-scanning
// persisted state, never by rolling back the transition.
func (s *orderService) publishEvent(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func applyStatus(order *Order, target domain.OrderStatus, now time.Time) {
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
}

func isPrivileged(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case auth.RoleAdmin, auth.RoleSystem:
		return true
	}
	return false
}

func ensureMetadata(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}
