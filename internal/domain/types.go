package domain

import "time"

// OrderStatus enumerates the lifecycle states an order can occupy.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentStatus tracks the payment sub-state independently of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Address captures the shipping destination snapshotted onto the order.
type Address struct {
	Street     string `firestore:"street" json:"street"`
	City       string `firestore:"city" json:"city"`
	State      string `firestore:"state,omitempty" json:"state,omitempty"`
	Country    string `firestore:"country" json:"country"`
	PostalCode string `firestore:"postalCode" json:"postal_code"`
}

// OrderLineItem is a priced line frozen at order creation time. Unit prices are
// minor currency units captured from the catalog when the order was placed;
// later catalog changes never alter an existing order.
type OrderLineItem struct {
	ProductID string `firestore:"productId" json:"product_id"`
	Name      string `firestore:"name" json:"name"`
	SKU       string `firestore:"sku,omitempty" json:"sku,omitempty"`
	Quantity  int    `firestore:"quantity" json:"quantity"`
	UnitPrice int64  `firestore:"unitPrice" json:"unit_price"`
	Total     int64  `firestore:"total" json:"total"`
}

// OrderTotals breaks down the order amount in minor currency units.
type OrderTotals struct {
	Subtotal int64 `firestore:"subtotal" json:"subtotal"`
	Shipping int64 `firestore:"shipping" json:"shipping"`
	Tax      int64 `firestore:"tax" json:"tax"`
	Discount int64 `firestore:"discount" json:"discount"`
	Total    int64 `firestore:"total" json:"total"`
}

// Order is the aggregate root persisted in the orders collection.
//
// Version implements optimistic concurrency: every successful update increments
// it by exactly one, and writers must present the version they read.
type Order struct {
	ID            string        `firestore:"-" json:"id"`
	OrderNumber   string        `firestore:"orderNumber" json:"order_number"`
	UserID        string        `firestore:"userId" json:"user_id"`
	Status        OrderStatus   `firestore:"status" json:"status"`
	PaymentStatus PaymentStatus `firestore:"paymentStatus" json:"payment_status"`

	Items           []OrderLineItem `firestore:"items" json:"items"`
	ShippingAddress Address         `firestore:"shippingAddress" json:"shipping_address"`
	Currency        string          `firestore:"currency" json:"currency"`
	Totals          OrderTotals     `firestore:"totals" json:"totals"`

	Version int64 `firestore:"version" json:"version"`

	PaymentTransactionID string `firestore:"paymentTransactionId,omitempty" json:"payment_transaction_id,omitempty"`
	TrackingNumber       string `firestore:"trackingNumber,omitempty" json:"tracking_number,omitempty"`
	CancellationReason   string `firestore:"cancellationReason,omitempty" json:"cancellation_reason,omitempty"`
	Notes                string `firestore:"notes,omitempty" json:"notes,omitempty"`

	Metadata map[string]any `firestore:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt   time.Time  `firestore:"createdAt" json:"created_at"`
	UpdatedAt   time.Time  `firestore:"updatedAt" json:"updated_at"`
	ConfirmedAt *time.Time `firestore:"confirmedAt,omitempty" json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty" json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty" json:"delivered_at,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty" json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `firestore:"refundedAt,omitempty" json:"refunded_at,omitempty"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty" json:"paid_at,omitempty"`
}

// IsTerminal reports whether no further fulfilment transitions are possible.
// Delivered orders still admit the refund transition and are not terminal here.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
