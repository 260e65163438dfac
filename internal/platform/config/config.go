package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultClientTimeout        = 5 * time.Second
	defaultClientRetryCount     = 2
	defaultClientRetryWait      = 200 * time.Millisecond
	defaultBreakerMaxFailures   = 5
	defaultBreakerOpenInterval  = 30 * time.Second
	defaultKafkaWriteTimeout    = 10 * time.Second
	defaultKafkaMaxRetries      = 3
	defaultKafkaRetryBackoff    = 250 * time.Millisecond
	defaultTaxRateBasisPoints   = 800
	defaultShippingFee          = 1000
	defaultFreeShippingOver     = 10000
	defaultCurrency             = "USD"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Inventory   ClientConfig
	Identity    ClientConfig
	Kafka       KafkaConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// ClientConfig parameterises an outbound HTTP service client.
type ClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	RetryCount          int
	RetryWait           time.Duration
	BreakerMaxFailures  int
	BreakerOpenInterval time.Duration
}

// KafkaConfig controls the event bus connection. An empty broker list or a
// disabled flag degrades publication to structured logging.
type KafkaConfig struct {
	Brokers      []string
	Enabled      bool
	TopicPrefix  string
	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// PricingConfig holds the totals policy knobs. Amounts are minor currency units.
type PricingConfig struct {
	TaxRateBasisPoints    int64
	ShippingFee           int64
	FreeShippingThreshold int64
	Currency              string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError aggregates configuration problems found during Load.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", strings.Join(e.fields, ", "))
}

// Fields returns the offending configuration fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ORDER_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ORDER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ORDER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ORDER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDER_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDER_FIRESTORE_EMULATOR_HOST", ""),
		},
		Inventory: ClientConfig{
			BaseURL:             stringWithDefault(lookup, "ORDER_INVENTORY_BASE_URL", "http://product-service:8000"),
			Timeout:             durationWithDefault(lookup, "ORDER_INVENTORY_TIMEOUT", defaultClientTimeout),
			RetryCount:          intWithDefault(lookup, "ORDER_INVENTORY_RETRY_COUNT", defaultClientRetryCount),
			RetryWait:           durationWithDefault(lookup, "ORDER_INVENTORY_RETRY_WAIT", defaultClientRetryWait),
			BreakerMaxFailures:  intWithDefault(lookup, "ORDER_INVENTORY_BREAKER_MAX_FAILURES", defaultBreakerMaxFailures),
			BreakerOpenInterval: durationWithDefault(lookup, "ORDER_INVENTORY_BREAKER_OPEN_INTERVAL", defaultBreakerOpenInterval),
		},
		Identity: ClientConfig{
			BaseURL:    stringWithDefault(lookup, "ORDER_IDENTITY_BASE_URL", "http://user-service:8000"),
			Timeout:    durationWithDefault(lookup, "ORDER_IDENTITY_TIMEOUT", defaultClientTimeout),
			RetryCount: intWithDefault(lookup, "ORDER_IDENTITY_RETRY_COUNT", defaultClientRetryCount),
			RetryWait:  durationWithDefault(lookup, "ORDER_IDENTITY_RETRY_WAIT", defaultClientRetryWait),
		},
		Kafka: KafkaConfig{
			Brokers:      csvWithDefault(lookup, "ORDER_KAFKA_BROKERS"),
			Enabled:      boolWithDefault(lookup, "ORDER_KAFKA_ENABLED", false),
			TopicPrefix:  stringWithDefault(lookup, "ORDER_KAFKA_TOPIC_PREFIX", ""),
			WriteTimeout: durationWithDefault(lookup, "ORDER_KAFKA_WRITE_TIMEOUT", defaultKafkaWriteTimeout),
			MaxRetries:   intWithDefault(lookup, "ORDER_KAFKA_MAX_RETRIES", defaultKafkaMaxRetries),
			RetryBackoff: durationWithDefault(lookup, "ORDER_KAFKA_RETRY_BACKOFF", defaultKafkaRetryBackoff),
		},
		Pricing: PricingConfig{
			TaxRateBasisPoints:    int64WithDefault(lookup, "ORDER_PRICING_TAX_BASIS_POINTS", defaultTaxRateBasisPoints),
			ShippingFee:           int64WithDefault(lookup, "ORDER_PRICING_SHIPPING_FEE", defaultShippingFee),
			FreeShippingThreshold: int64WithDefault(lookup, "ORDER_PRICING_FREE_SHIPPING_OVER", defaultFreeShippingOver),
			Currency:              stringWithDefault(lookup, "ORDER_PRICING_CURRENCY", defaultCurrency),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "ORDER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "ORDER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "ORDER_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "ORDER_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var fields []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		fields = append(fields, "Server.Port")
	}
	if strings.TrimSpace(cfg.Inventory.BaseURL) == "" {
		fields = append(fields, "Inventory.BaseURL")
	}
	if strings.TrimSpace(cfg.Identity.BaseURL) == "" {
		fields = append(fields, "Identity.BaseURL")
	}
	if cfg.Pricing.TaxRateBasisPoints < 0 {
		fields = append(fields, "Pricing.TaxRateBasisPoints")
	}
	if cfg.Pricing.ShippingFee < 0 {
		fields = append(fields, "Pricing.ShippingFee")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		fields = append(fields, "Kafka.Brokers")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	entries := strings.Split(value, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
