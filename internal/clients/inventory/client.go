package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryCount = 2
	defaultRetryWait  = 200 * time.Millisecond
)

var (
	// ErrProductNotFound indicates the product does not exist in the catalog.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInsufficientStock indicates the reservation was rejected for lack of stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrUnavailable indicates the inventory authority could not serve the request.
	ErrUnavailable = errors.New("inventory: service unavailable")
)

// Availability is the stock snapshot returned for a single product.
type Availability struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Available bool   `json:"available"`
	Stock     int    `json:"stock"`
	UnitPrice int64  `json:"unit_price"`
}

// Config parameterises the inventory client.
type Config struct {
	BaseURL             string
	Timeout             time.Duration
	RetryCount          int
	RetryWait           time.Duration
	BreakerMaxFailures  int
	BreakerOpenInterval time.Duration
}

// Client talks to the inventory authority over HTTP.
//
// Reads retry on transient failures. Reserve is a non-idempotent write and is
// never retried by the client; an ambiguous outcome is reported as an error and
// left for the caller to compensate. Release is idempotent per
// (order, product) and retries safely.
type Client struct {
	reads   *resty.Client
	writes  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// New constructs an inventory client from the provided configuration.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inventory client: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = defaultRetryCount
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}

	reads := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() >= http.StatusInternalServerError
		})

	writes := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	settings := gobreaker.Settings{
		Name:    "inventory",
		Timeout: cfg.BreakerOpenInterval,
	}
	maxFailures := uint32(5)
	if cfg.BreakerMaxFailures > 0 {
		maxFailures = uint32(cfg.BreakerMaxFailures)
	}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= maxFailures
	}

	return &Client{
		reads:   reads,
		writes:  writes,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// CheckAvailability reports whether the requested quantity can be served and
// returns the current catalog snapshot for the product.
func (c *Client) CheckAvailability(ctx context.Context, productID string, quantity int) (Availability, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Availability{}, fmt.Errorf("inventory: product id is required")
	}

	result, err := c.breaker.Execute(func() (any, error) {
		var availability Availability
		resp, err := c.reads.R().
			SetContext(ctx).
			SetQueryParam("quantity", fmt.Sprintf("%d", quantity)).
			SetResult(&availability).
			Get(fmt.Sprintf("/api/v1/products/%s/availability", productID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		case resp.StatusCode() >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: availability check returned %d", ErrUnavailable, resp.StatusCode())
		case resp.IsError():
			return nil, fmt.Errorf("inventory: availability check returned %d", resp.StatusCode())
		}
		availability.ProductID = productID
		return availability, nil
	})
	if err != nil {
		return Availability{}, translateBreakerError(err)
	}
	return result.(Availability), nil
}

// Reserve decrements stock for the given order line. It performs exactly one
// attempt; timeouts and transport failures are surfaced so the saga can
// compensate.
func (c *Client) Reserve(ctx context.Context, orderID, productID string, quantity int) error {
	if err := validateLine(orderID, productID, quantity); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.writes.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"order_id": orderID,
				"quantity": quantity,
			}).
			Post(fmt.Sprintf("/api/v1/products/%s/stock/reserve", productID))
		if err != nil {
			return nil, fmt.Errorf("%w: reserve %s: %v", ErrUnavailable, productID, err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		case resp.StatusCode() == http.StatusConflict:
			return nil, fmt.Errorf("%w: product %s quantity %d", ErrInsufficientStock, productID, quantity)
		case resp.StatusCode() >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: reserve returned %d", ErrUnavailable, resp.StatusCode())
		case resp.IsError():
			return nil, fmt.Errorf("inventory: reserve returned %d", resp.StatusCode())
		}
		return nil, nil
	})
	return translateBreakerError(err)
}

// Release returns previously reserved stock. The operation is idempotent per
// (order, product); releasing more than was reserved is a no-op server-side,
// so retries are safe.
func (c *Client) Release(ctx context.Context, orderID, productID string, quantity int) error {
	if err := validateLine(orderID, productID, quantity); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.reads.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"order_id": orderID,
				"quantity": quantity,
			}).
			Post(fmt.Sprintf("/api/v1/products/%s/stock/release", productID))
		if err != nil {
			return nil, fmt.Errorf("%w: release %s: %v", ErrUnavailable, productID, err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		case resp.StatusCode() >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: release returned %d", ErrUnavailable, resp.StatusCode())
		case resp.IsError():
			return nil, fmt.Errorf("inventory: release returned %d", resp.StatusCode())
		}
		return nil, nil
	})
	return translateBreakerError(err)
}

func validateLine(orderID, productID string, quantity int) error {
	if strings.TrimSpace(orderID) == "" {
		return errors.New("inventory: order id is required")
	}
	if strings.TrimSpace(productID) == "" {
		return errors.New("inventory: product id is required")
	}
	if quantity <= 0 {
		return fmt.Errorf("inventory: quantity must be positive, got %d", quantity)
	}
	return nil
}

func translateBreakerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return err
}
