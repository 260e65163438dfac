package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/clients/identity"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/clients/inventory"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/events"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/handlers"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/config"
	pfirestore "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/firestore"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/idempotency"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/observability"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/requestctx"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
	firestoreRepo "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories/firestore"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/services"
)

const (
	createOrderRateLimit  = 30
	createOrderRateWindow = time.Minute
	firestoreCheckTimeout = 2 * time.Second
)

// Container assembles the runtime dependency graph: persistence, outbound
// clients, the event publisher, services, and the HTTP handler.
type Container struct {
	Config  config.Config
	Logger  *zap.Logger
	Handler http.Handler

	provider    *pfirestore.Provider
	bus         *events.KafkaBus
	cancelTasks context.CancelFunc
}

// NewContainer wires the full dependency graph from configuration. The context
// is used for initial client dials and bounds the lifetime of background
// maintenance tasks.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := pfirestore.NewProvider(cfg.Firestore)

	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("di: build order repository: %w", err)
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("di: build counter repository: %w", err)
	}

	inventoryClient, err := inventory.New(inventory.Config{
		BaseURL:             cfg.Inventory.BaseURL,
		Timeout:             cfg.Inventory.Timeout,
		RetryCount:          cfg.Inventory.RetryCount,
		RetryWait:           cfg.Inventory.RetryWait,
		BreakerMaxFailures:  cfg.Inventory.BreakerMaxFailures,
		BreakerOpenInterval: cfg.Inventory.BreakerOpenInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build inventory client: %w", err)
	}

	identityClient, err := identity.New(identity.Config{
		BaseURL:    cfg.Identity.BaseURL,
		Timeout:    cfg.Identity.Timeout,
		RetryCount: cfg.Identity.RetryCount,
		RetryWait:  cfg.Identity.RetryWait,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build identity client: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   logger,
		provider: provider,
	}

	bus, err := container.buildBus(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := events.NewPublisher(events.PublisherDeps{
		Bus:          bus,
		TopicPrefix:  cfg.Kafka.TopicPrefix,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
		Logger:       serviceLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build event publisher: %w", err)
	}

	pricing := services.PricingPolicy{
		TaxRateBasisPoints:    cfg.Pricing.TaxRateBasisPoints,
		ShippingFee:           cfg.Pricing.ShippingFee,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		Currency:              cfg.Pricing.Currency,
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Inventory: inventoryClient,
		Events:    publisher,
		Clock:     time.Now,
		Logger:    serviceLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order service: %w", err)
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:      orderRepo,
		Counters:    counterRepo,
		Inventory:   inventoryClient,
		Events:      publisher,
		Pricing:     pricing,
		Clock:       time.Now,
		IDGenerator: func() string { return ulid.Make().String() },
		Logger:      serviceLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build checkout service: %w", err)
	}

	healthRepo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: firestoreCheckTimeout,
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("di: build health repository: %w", err)
	}

	authn := auth.NewAuthenticator(identityClient)
	// Authentication is applied as a group middleware ahead of idempotency so
	// replay records are scoped to the verified caller.
	orderHandlers := handlers.NewOrderHandlers(nil, checkoutService, orderService,
		handlers.WithCreateRateLimit(createOrderRateLimit, createOrderRateWindow))

	idemStore, err := container.buildIdempotencyStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	tasksCtx, cancelTasks := context.WithCancel(context.Background())
	container.cancelTasks = cancelTasks
	go runIdempotencyCleanup(tasksCtx, idemStore, cfg.Idempotency, logger)

	container.Handler = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthRepo)),
		handlers.WithOrderMiddlewares(
			authn.RequireAuth(),
			idempotency.Middleware(idemStore,
				idempotency.WithHeader(cfg.Idempotency.Header),
				idempotency.WithTTL(cfg.Idempotency.TTL),
				idempotency.WithLogger(observability.NewPrintfAdapter(logger)),
			),
		),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	return container, nil
}

// Close stops background tasks and releases the broker and database clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cancelTasks != nil {
		c.cancelTasks()
	}

	var errs []error
	if c.bus != nil {
		if err := c.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildBus(cfg config.KafkaConfig, logger *zap.Logger) (events.Bus, error) {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("event bus disabled; order events will be logged only")
		return events.NewLogBus(logger.Named("events")), nil
	}

	bus, err := events.NewKafkaBus(cfg.Brokers, cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("di: build kafka bus: %w", err)
	}
	c.bus = bus
	return bus, nil
}

func (c *Container) buildIdempotencyStore(ctx context.Context, logger *zap.Logger) (idempotency.Store, error) {
	if _, err := c.provider.Client(ctx); err != nil {
		// The service can still run; replay protection just loses durability.
		logger.Warn("firestore unavailable for placement records; using in-memory store", zap.Error(err))
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewFirestoreStore(c.provider), nil
}

// serviceLogger adapts zap to the map-based logging hook the services accept,
// preferring the request-scoped logger when one is present.
func serviceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		return
	}
	batch := cfg.CleanupBatchSize
	if batch <= 0 {
		batch = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PurgeExpired(ctx, time.Now().UTC(), batch)
			if err != nil {
				logger.Warn("placement record cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("expired placement records purged", zap.Int("count", removed))
			}
		}
	}
}
