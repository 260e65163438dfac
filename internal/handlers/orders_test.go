package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/services"
)

type stubCheckoutService struct {
	placeOrderFn func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeOrderFn == nil {
		return services.Order{}, fmt.Errorf("unexpected PlaceOrder call")
	}
	return s.placeOrderFn(ctx, cmd)
}

type stubOrderService struct {
	getFn        func(ctx context.Context, actor services.Actor, orderID string) (services.Order, error)
	listFn       func(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.TransitionStatusCommand) (services.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	paymentFn    func(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, fmt.Errorf("unexpected GetOrder call")
	}
	return s.getFn(ctx, actor, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListOrders call")
	}
	return s.listFn(ctx, actor, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, fmt.Errorf("unexpected TransitionStatus call")
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, fmt.Errorf("unexpected Cancel call")
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
	if s.paymentFn == nil {
		return services.Order{}, fmt.Errorf("unexpected UpdatePaymentStatus call")
	}
	return s.paymentFn(ctx, cmd)
}

type stubTokenVerifier struct {
	principals map[string]auth.Principal
}

func (s *stubTokenVerifier) VerifyToken(_ context.Context, token string) (auth.Principal, error) {
	principal, ok := s.principals[token]
	if !ok {
		return auth.Principal{}, auth.ErrTokenInvalid
	}
	return principal, nil
}

func newTestVerifier() *stubTokenVerifier {
	return &stubTokenVerifier{principals: map[string]auth.Principal{
		"user-token":   {ID: "user-1", Email: "user@example.com", Role: auth.RoleUser},
		"admin-token":  {ID: "admin-1", Email: "ops@example.com", Role: auth.RoleAdmin},
		"system-token": {ID: "svc-payments", Role: auth.RoleSystem},
	}}
}

func newOrdersServer(t *testing.T, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlerOption) *httptest.Server {
	t.Helper()
	authn := auth.NewAuthenticator(newTestVerifier())
	h := NewOrderHandlers(authn, checkout, orders, opts...)
	router := NewRouter(WithOrderRoutes(h.Routes))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeOrderResponse(t *testing.T, resp *http.Response) services.Order {
	t.Helper()
	var payload orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return payload.Order
}

func sampleOrder() services.Order {
	now := time.Date(2026, time.May, 12, 10, 30, 0, 0, time.UTC)
	return services.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-20260512-000042",
		UserID:        "user-1",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPending,
		Items: []domain.OrderLineItem{
			{ProductID: "prod-a", Name: "Widget", Quantity: 2, UnitPrice: 1500, Total: 3000},
		},
		Currency:  "USD",
		Totals:    domain.OrderTotals{Subtotal: 3000, Tax: 240, Shipping: 1000, Total: 4240},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func placeOrderBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": " prod-a ", "quantity": 2},
		},
		"shipping_address": map[string]any{
			"street":      "1 Main St",
			"city":        "Springfield",
			"country":     "US",
			"postal_code": "12345",
		},
		"payment_method": "card-token-1",
	}
}

func TestPlaceOrderReturnsCreated(t *testing.T) {
	var received services.PlaceOrderCommand
	checkout := &stubCheckoutService{
		placeOrderFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			received = cmd
			return sampleOrder(), nil
		},
	}

	server := newOrdersServer(t, checkout, &stubOrderService{})
	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "user-token", placeOrderBody())

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	order := decodeOrderResponse(t, resp)
	if order.ID != "ord_1" || order.OrderNumber != "ORD-20260512-000042" {
		t.Fatalf("unexpected order in response: %+v", order)
	}

	if received.Actor.ID != "user-1" || received.Actor.Role != auth.RoleUser {
		t.Fatalf("actor = %+v, want user-1/user", received.Actor)
	}
	if len(received.Items) != 1 || received.Items[0].ProductID != "prod-a" || received.Items[0].Quantity != 2 {
		t.Fatalf("items not normalised: %+v", received.Items)
	}
	if received.PaymentMethod != "card-token-1" {
		t.Fatalf("payment method = %q", received.PaymentMethod)
	}
}

func TestPlaceOrderRequiresAuthentication(t *testing.T) {
	server := newOrdersServer(t, &stubCheckoutService{}, &stubOrderService{})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "", placeOrderBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "bogus", placeOrderBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token: status = %d, want 401", resp.StatusCode)
	}
}

func TestPlaceOrderRateLimited(t *testing.T) {
	checkout := &stubCheckoutService{
		placeOrderFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	server := newOrdersServer(t, checkout, &stubOrderService{}, WithCreateRateLimit(1, time.Minute))

	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "user-token", placeOrderBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first request: status = %d, want 201", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "user-token", placeOrderBody())
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", resp.StatusCode)
	}

	// Another caller has its own budget.
	resp = doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "admin-token", placeOrderBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("other caller: status = %d, want 201", resp.StatusCode)
	}
}

func TestPlaceOrderMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid input", services.ErrOrderInvalidInput, http.StatusUnprocessableEntity},
		{"stock unavailable", services.ErrStockUnavailable, http.StatusConflict},
		{"compensation failed", services.ErrCompensationFailed, http.StatusConflict},
		{"upstream down", services.ErrExternalService, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeOrderFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
					return services.Order{}, fmt.Errorf("place order: %w", tc.err)
				},
			}
			server := newOrdersServer(t, checkout, &stubOrderService{})

			resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/orders", "user-token", placeOrderBody())
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestPlaceOrderRejectsEmptyBody(t *testing.T) {
	server := newOrdersServer(t, &stubCheckoutService{}, &stubOrderService{})

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/orders", strings.NewReader(""))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer user-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetOrderReturnsOrder(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, actor services.Actor, orderID string) (services.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("orderID = %q", orderID)
			}
			if actor.ID != "user-1" {
				t.Fatalf("actor = %+v", actor)
			}
			return sampleOrder(), nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/orders/ord_1", "user-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	order := decodeOrderResponse(t, resp)
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q", order.Status)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, services.Actor, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/orders/ord_missing", "user-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListOrdersParsesQuery(t *testing.T) {
	var received services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, _ services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			received = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok-2",
			}, nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	url := server.URL + "/api/v1/orders?status=Confirmed,shipped&page_size=500&page_token=tok-1&created_after=2026-05-01T00:00:00Z"
	resp := doJSON(t, http.MethodGet, url, "admin-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if len(received.Status) != 2 || received.Status[0] != domain.OrderStatusConfirmed || received.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("status filter = %v", received.Status)
	}
	if received.PageSize != maxOrderPageSize {
		t.Fatalf("page size = %d, want clamp to %d", received.PageSize, maxOrderPageSize)
	}
	if received.PageToken != "tok-1" {
		t.Fatalf("page token = %q", received.PageToken)
	}
	if received.CreatedAfter == nil || !received.CreatedAfter.Equal(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("created after = %v", received.CreatedAfter)
	}

	var payload orderListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.NextPageToken != "tok-2" {
		t.Fatalf("list payload = %+v", payload)
	}
}

func TestListOrdersRejectsBadTimestamp(t *testing.T) {
	server := newOrdersServer(t, &stubCheckoutService{}, &stubOrderService{})

	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/orders?created_after=yesterday", "user-token", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelOrderAcceptsEmptyBody(t *testing.T) {
	var received services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			received = cmd
			cancelled := sampleOrder()
			cancelled.Status = domain.OrderStatusCancelled
			return cancelled, nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	resp := doJSON(t, http.MethodPatch, server.URL+"/api/v1/orders/ord_1/cancel", "user-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if received.OrderID != "ord_1" || received.Reason != "" {
		t.Fatalf("command = %+v", received)
	}
}

func TestCancelOrderForwardsReason(t *testing.T) {
	var received services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			received = cmd
			return sampleOrder(), nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	resp := doJSON(t, http.MethodPatch, server.URL+"/api/v1/orders/ord_1/cancel", "user-token", map[string]any{"reason": "changed my mind"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if received.Reason != "changed my mind" {
		t.Fatalf("reason = %q", received.Reason)
	}
}

func TestUpdateStatusMapsErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"forbidden role", services.ErrOrderForbidden, http.StatusForbidden},
		{"invalid transition", services.ErrInvalidTransition, http.StatusConflict},
		{"version conflict", services.ErrOrderConflict, http.StatusConflict},
		{"not found", services.ErrOrderNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				transitionFn: func(context.Context, services.TransitionStatusCommand) (services.Order, error) {
					return services.Order{}, fmt.Errorf("transition: %w", tc.err)
				},
			}
			server := newOrdersServer(t, &stubCheckoutService{}, orders)

			resp := doJSON(t, http.MethodPatch, server.URL+"/api/v1/orders/ord_1/status", "admin-token", map[string]any{"status": "shipped"})
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestUpdateStatusNormalisesTarget(t *testing.T) {
	var received services.TransitionStatusCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
			received = cmd
			shipped := sampleOrder()
			shipped.Status = domain.OrderStatusShipped
			return shipped, nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	body := map[string]any{"status": " Shipped ", "tracking_number": "TRK-9"}
	resp := doJSON(t, http.MethodPatch, server.URL+"/api/v1/orders/ord_1/status", "admin-token", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if received.TargetStatus != domain.OrderStatusShipped {
		t.Fatalf("target = %q", received.TargetStatus)
	}
	if received.TrackingNumber != "TRK-9" {
		t.Fatalf("tracking = %q", received.TrackingNumber)
	}
	if received.Actor.Role != auth.RoleAdmin {
		t.Fatalf("actor role = %q", received.Actor.Role)
	}
}

func TestUpdatePaymentForwardsCommand(t *testing.T) {
	var received services.UpdatePaymentCommand
	orders := &stubOrderService{
		paymentFn: func(_ context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
			received = cmd
			paid := sampleOrder()
			paid.PaymentStatus = domain.PaymentStatusPaid
			return paid, nil
		},
	}
	server := newOrdersServer(t, &stubCheckoutService{}, orders)

	body := map[string]any{"payment_status": "paid", "transaction_id": "txn-99"}
	resp := doJSON(t, http.MethodPatch, server.URL+"/api/v1/orders/ord_1/payment", "system-token", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if received.PaymentStatus != domain.PaymentStatusPaid || received.TransactionID != "txn-99" {
		t.Fatalf("command = %+v", received)
	}
	if received.Actor.Role != auth.RoleSystem {
		t.Fatalf("actor role = %q", received.Actor.Role)
	}

	order := decodeOrderResponse(t, resp)
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %q", order.PaymentStatus)
	}
}
