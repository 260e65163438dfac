// Package idempotency guards order placement against duplicate submission.
// A client retrying POST /orders with the same Idempotency-Key receives the
// stored outcome of the first attempt instead of a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL is how long placement records are retained before a key may be reused.
const DefaultTTL = 24 * time.Hour

// Stage is the lifecycle state of a placement record.
type Stage string

const (
	// StageProcessing marks a placement whose handler has not finished yet.
	StageProcessing Stage = "processing"
	// StageReplayable marks a placement whose outcome is stored and can be served again.
	StageReplayable Stage = "replayable"
)

// Record is the durable trace of one order placement attempt, keyed by the
// caller's idempotency key. Replayable records carry the placed order's
// identifiers alongside the response so a replay can be tied back to the order.
type Record struct {
	Key         string
	Requester   string
	Digest      string
	Stage       Stage
	OrderID     string
	OrderNumber string
	StatusCode  int
	Body        []byte
	ReservedAt  time.Time
	CompletedAt time.Time
	ExpiresAt   time.Time
}

// Placement is the outcome persisted when the handler finishes.
type Placement struct {
	OrderID     string
	OrderNumber string
	StatusCode  int
	Body        []byte
}

// BeginState reports what Begin found for the key.
type BeginState int

const (
	// BeginStarted means the key was free and is now reserved for this attempt.
	BeginStarted BeginState = iota
	// BeginReplay means a finished placement was found; serve its record.
	BeginReplay
	// BeginInFlight means another request holds the key and has not finished.
	BeginInFlight
)

// Reservation is the result of Begin, carrying the stored record on a replay.
type Reservation struct {
	State  BeginState
	Record Record
}

// Store persists placement records.
type Store interface {
	Begin(ctx context.Context, key, requester, digest string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, requester string, placement Placement, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key, requester string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused is returned when a key is presented with a different request
// digest than the one it was reserved for.
var ErrKeyReused = errors.New("idempotency: key reused for a different placement request")

// recordID derives the document identifier. Keys are scoped per requester so
// two callers picking the same key never collide.
func recordID(key, requester string) string {
	sum := sha256.Sum256([]byte(requester + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func expired(rec Record, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}
