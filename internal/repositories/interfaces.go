package repositories

import (
	"context"
	"time"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
)

// RepositoryError classifies persistence failures so services can translate
// them into domain errors without depending on the storage driver.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order queries.
type OrderListFilter struct {
	UserID       string
	Status       []domain.OrderStatus
	CreatedAfter *time.Time
	PageSize     int
	PageToken    string
}

// OrderRepository persists order aggregates with optimistic concurrency.
//
// Update compares the stored version against order.Version and writes
// order.Version+1 atomically; a mismatch surfaces as a conflict error.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CounterConfig captures optional counter settings.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository aggregates dependency checks for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
