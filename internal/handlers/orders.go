package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/httpx"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

type placeOrderRequest struct {
	Items           []placeOrderItem `json:"items"`
	ShippingAddress domain.Address   `json:"shipping_address"`
	PaymentMethod   string           `json:"payment_method"`
	Notes           string           `json:"notes"`
	Metadata        map[string]any   `json:"metadata"`
}

type placeOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	TrackingNumber string `json:"tracking_number"`
}

type updatePaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
	TransactionID string `json:"transaction_id"`
}

type orderResponse struct {
	Order services.Order `json:"order"`
}

type orderListResponse struct {
	Items         []services.Order `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

// OrderHandlers exposes the order HTTP surface: creation through the checkout
// saga, reads scoped to the caller, cancellation, and the privileged status
// and payment updates.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
	limiter  rateLimiter
}

// OrderHandlerOption customises handler construction.
type OrderHandlerOption func(*OrderHandlers)

// WithCreateRateLimit bounds how many orders a single caller may place per window.
func WithCreateRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newSlidingWindowLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/cancel", h.cancelOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Patch("/{orderID}/payment", h.updatePayment)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many orders, retry later", http.StatusTooManyRequests))
		return
	}

	var req placeOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	items := make([]services.OrderItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor:           actor,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Notes:           req.Notes,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: order})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(strings.ToLower(value))
			if value != "" {
				filter.Status = append(filter.Status, domain.OrderStatus(value))
			}
		}
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAfter = &ts
	}

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			filter.PageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			filter.PageSize = maxOrderPageSize
		default:
			filter.PageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := page.Items
	if items == nil {
		items = []services.Order{}
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: order})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	// The cancel body is optional.
	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Actor:   actor,
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: order})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionStatusCommand{
		Actor:          actor,
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatus(strings.TrimSpace(strings.ToLower(req.Status))),
		Reason:         req.Reason,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: order})
}

func (h *OrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updatePaymentRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentCommand{
		Actor:         actor,
		OrderID:       orderID,
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(strings.ToLower(req.PaymentStatus))),
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: order})
}

// Helpers ----------------------------------------------------------------

func requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}

	role := auth.RoleUser
	switch {
	case identity.HasRole(auth.RoleAdmin):
		role = auth.RoleAdmin
	case identity.HasRole(auth.RoleSystem):
		role = auth.RoleSystem
	}

	return services.Actor{ID: strings.TrimSpace(identity.UID), Role: role}, true
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrCompensationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrExternalService):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependent service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
