package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		RetryCount: 2,
		RetryWait:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestCheckAvailabilitySuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/products/prod-1/availability" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("quantity"); got != "2" {
			t.Errorf("unexpected quantity %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":       "Mechanical Keyboard",
			"available":  true,
			"stock":      14,
			"unit_price": 12900,
		})
	}))

	availability, err := client.CheckAvailability(context.Background(), "prod-1", 2)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if !availability.Available {
		t.Error("expected available")
	}
	if availability.UnitPrice != 12900 {
		t.Errorf("unexpected unit price %d", availability.UnitPrice)
	}
	if availability.ProductID != "prod-1" {
		t.Errorf("unexpected product id %q", availability.ProductID)
	}
}

func TestCheckAvailabilityRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"available": true, "stock": 3, "unit_price": 500})
	}))

	if _, err := client.CheckAvailability(context.Background(), "prod-1", 1); err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestCheckAvailabilityNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.CheckAvailability(context.Background(), "ghost", 1)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestReserveNeverRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.Reserve(context.Background(), "ord_1", "prod-1", 2)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("reserve must attempt exactly once, got %d attempts", calls.Load())
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["order_id"] != "ord_1" {
			t.Errorf("unexpected order id %v", body["order_id"])
		}
		w.WriteHeader(http.StatusConflict)
	}))

	err := client.Reserve(context.Background(), "ord_1", "prod-1", 99)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestReleaseRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.Release(context.Background(), "ord_1", "prod-1", 2); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected release to retry once, got %d attempts", calls.Load())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:            server.URL,
		Timeout:            time.Second,
		RetryCount:         0,
		BreakerMaxFailures: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := client.Reserve(context.Background(), "ord_1", "prod-1", 1); err == nil {
			t.Fatal("expected failure")
		}
	}

	err = client.Reserve(context.Background(), "ord_1", "prod-1", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once breaker is open, got %v", err)
	}
}
