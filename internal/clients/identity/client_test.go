package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
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

func TestVerifyTokenSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/verify-token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":    "user-7",
			"email": "shopper@example.com",
			"role":  "admin",
		})
	}))

	principal, err := client.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if principal.ID != "user-7" {
		t.Errorf("unexpected id %q", principal.ID)
	}
	if principal.Role != "admin" {
		t.Errorf("unexpected role %q", principal.Role)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.VerifyToken(context.Background(), "stale")
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTokenDoesNotRetryDefinitiveVerdicts(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	if _, err := client.VerifyToken(context.Background(), "stale"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("401 must not be retried, got %d attempts", calls.Load())
	}
}

func TestVerifyTokenRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "user-7", "role": "user"})
	}))

	principal, err := client.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if principal.ID != "user-7" {
		t.Errorf("unexpected principal %+v", principal)
	}
	if calls.Load() != 2 {
		t.Errorf("expected a retry after 502, got %d attempts", calls.Load())
	}
}

func TestVerifyTokenEmptyPrincipal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"email": "nobody@example.com"})
	}))

	_, err := client.VerifyToken(context.Background(), "tok-1")
	if !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
