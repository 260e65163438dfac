package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Event types emitted by the order service. Each type maps to its own topic.
const (
	TypeOrderCreated     = "order.created"
	TypeOrderConfirmed   = "order.confirmed"
	TypeOrderProcessing  = "order.processing"
	TypeOrderShipped     = "order.shipped"
	TypeOrderDelivered   = "order.delivered"
	TypeOrderCancelled   = "order.cancelled"
	TypeOrderRefunded    = "order.refunded"
	TypePaymentCompleted = "order.payment_completed"
	TypePaymentFailed    = "order.payment_failed"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 250 * time.Millisecond
	dedupCacheLimit     = 4096
)

// Event is the envelope published for every committed order transition.
//
// OrderVersion is the version the order reached when the event was produced;
// (OrderID, OrderVersion) uniquely identifies a transition and serves as the
// dedup key for consumers and for this publisher's own republish suppression.
type Event struct {
	Type           string         `json:"event_type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number,omitempty"`
	OrderVersion   int64          `json:"order_version"`
	UserID         string         `json:"user_id,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// DedupKey identifies the transition this event was produced for.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s#%d", e.OrderID, e.OrderVersion)
}

// Bus delivers an encoded event to a topic. Implementations must be safe for
// concurrent use.
type Bus interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte) error
}

// PublisherDeps bundles collaborators for the publisher.
type PublisherDeps struct {
	Bus          Bus
	TopicPrefix  string
	MaxRetries   int
	RetryBackoff time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Publisher delivers order events at-least-once with bounded retries.
//
// Publication is decoupled from persistence: a publish failure is reported to
// the caller for logging but must never roll back the committed transition.
// Republishes of an already-delivered (order, version) pair are suppressed
// in-process; consumers still dedup on the same key for cross-process safety.
type Publisher struct {
	bus          Bus
	topicPrefix  string
	maxRetries   int
	retryBackoff time.Duration
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)

	mu        sync.Mutex
	delivered map[string]struct{}
	order     []string
}

// NewPublisher wires dependencies into a Publisher.
func NewPublisher(deps PublisherDeps) (*Publisher, error) {
	if deps.Bus == nil {
		return nil, errors.New("event publisher: bus is required")
	}

	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := deps.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Publisher{
		bus:          deps.Bus,
		topicPrefix:  strings.TrimSpace(deps.TopicPrefix),
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		clock:        clock,
		logger:       logger,
		delivered:    make(map[string]struct{}),
	}, nil
}

// Publish delivers the event to its topic, retrying transient failures with
// linear backoff. Duplicate (order, version) pairs already delivered by this
// process are dropped silently.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("event publisher: event type is required")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return errors.New("event publisher: order id is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.clock().UTC()
	}

	key := event.DedupKey()
	if p.alreadyDelivered(key) {
		p.logger(ctx, "event.publish.duplicate_suppressed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"key":   key,
		})
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event publisher: encode %s: %w", event.Type, err)
	}

	topic := p.topicFor(event.Type)
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.retryBackoff):
			}
		}

		lastErr = p.bus.Publish(ctx, topic, []byte(key), value)
		if lastErr == nil {
			p.markDelivered(key)
			return nil
		}

		p.logger(ctx, "event.publish.retry", map[string]any{
			"type":    event.Type,
			"order":   event.OrderID,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}

	return fmt.Errorf("event publisher: %s for order %s: %w", event.Type, event.OrderID, lastErr)
}

func (p *Publisher) topicFor(eventType string) string {
	if p.topicPrefix == "" {
		return eventType
	}
	return p.topicPrefix + "." + eventType
}

func (p *Publisher) alreadyDelivered(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.delivered[key]
	return ok
}

func (p *Publisher) markDelivered(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.delivered[key]; ok {
		return
	}
	p.delivered[key] = struct{}{}
	p.order = append(p.order, key)
	if len(p.order) > dedupCacheLimit {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.delivered, oldest)
	}
}
