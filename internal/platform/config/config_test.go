package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Inventory.BaseURL == "" {
		t.Error("expected default inventory base url")
	}
	if cfg.Inventory.RetryCount != defaultClientRetryCount {
		t.Errorf("unexpected inventory retry count: %d", cfg.Inventory.RetryCount)
	}
	if cfg.Pricing.TaxRateBasisPoints != defaultTaxRateBasisPoints {
		t.Errorf("unexpected tax basis points: %d", cfg.Pricing.TaxRateBasisPoints)
	}
	if cfg.Pricing.ShippingFee != defaultShippingFee {
		t.Errorf("unexpected shipping fee: %d", cfg.Pricing.ShippingFee)
	}
	if cfg.Pricing.Currency != defaultCurrency {
		t.Errorf("unexpected currency: %s", cfg.Pricing.Currency)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"ORDER_SERVER_PORT":                "9090",
		"ORDER_SERVER_READ_TIMEOUT":        "20s",
		"ORDER_FIRESTORE_PROJECT_ID":       "shop-prod",
		"ORDER_INVENTORY_BASE_URL":         "http://products.internal:8000",
		"ORDER_INVENTORY_RETRY_COUNT":      "4",
		"ORDER_IDENTITY_BASE_URL":          "http://users.internal:8000",
		"ORDER_KAFKA_BROKERS":              "kafka-1:9092, kafka-2:9092",
		"ORDER_KAFKA_ENABLED":              "true",
		"ORDER_KAFKA_MAX_RETRIES":          "5",
		"ORDER_PRICING_TAX_BASIS_POINTS":   "1000",
		"ORDER_PRICING_SHIPPING_FEE":       "500",
		"ORDER_PRICING_FREE_SHIPPING_OVER": "20000",
		"ORDER_IDEMPOTENCY_TTL":            "48h",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-prod" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Inventory.BaseURL != "http://products.internal:8000" {
		t.Errorf("unexpected inventory base url: %s", cfg.Inventory.BaseURL)
	}
	if cfg.Inventory.RetryCount != 4 {
		t.Errorf("unexpected inventory retry count: %d", cfg.Inventory.RetryCount)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.MaxRetries != 5 {
		t.Errorf("unexpected kafka max retries: %d", cfg.Kafka.MaxRetries)
	}
	if cfg.Pricing.TaxRateBasisPoints != 1000 {
		t.Errorf("unexpected tax basis points: %d", cfg.Pricing.TaxRateBasisPoints)
	}
	if cfg.Pricing.FreeShippingThreshold != 20000 {
		t.Errorf("unexpected free shipping threshold: %d", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadValidatesKafkaBrokers(t *testing.T) {
	env := map[string]string{
		"ORDER_KAFKA_ENABLED": "true",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Kafka.Brokers" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Kafka.Brokers among invalid fields, got %v", validation.Fields())
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "ORDER_SERVER_PORT=7070\n# comment\nORDER_PRICING_CURRENCY=\"EUR\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from env file, got %s", cfg.Server.Port)
	}
	if cfg.Pricing.Currency != "EUR" {
		t.Errorf("expected quoted currency to be unwrapped, got %s", cfg.Pricing.Currency)
	}
}
