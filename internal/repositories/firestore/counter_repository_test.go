package firestore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/config"
	pfirestore "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/firestore"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

func newCounterRepoForValidation(t *testing.T) *CounterRepository {
	t.Helper()
	// The provider dials lazily, so argument validation paths never reach the
	// backend and can be exercised without an emulator.
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "validation-test"})
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("NewCounterRepository: %v", err)
	}
	return repo
}

func TestCounterNextRejectsEmptyID(t *testing.T) {
	repo := newCounterRepoForValidation(t)

	_, err := repo.Next(context.Background(), "  ", 1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorInvalidInput {
		t.Fatalf("err = %v, want invalid-input counter error", err)
	}
}

func TestCounterNextRejectsNegativeStep(t *testing.T) {
	repo := newCounterRepoForValidation(t)

	_, err := repo.Next(context.Background(), "orders-20260512", -1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorInvalidInput {
		t.Fatalf("err = %v, want invalid-input counter error", err)
	}
	if !strings.Contains(counterErr.Message, "negative") {
		t.Fatalf("message = %q, want it to name the negative step", counterErr.Message)
	}
}
