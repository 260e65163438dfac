package handlers

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterBlocksOverLimit(t *testing.T) {
	now := time.Date(2026, time.May, 12, 10, 30, 0, 0, time.UTC)
	limiter := newSlidingWindowLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatal("first two placements must be admitted")
	}
	if limiter.Allow("user-1") {
		t.Fatal("third placement inside the window must be blocked")
	}
	if !limiter.Allow("user-2") {
		t.Fatal("limits are per actor")
	}
}

func TestSlidingWindowLimiterSlidesInsteadOfResetting(t *testing.T) {
	now := time.Date(2026, time.May, 12, 10, 30, 0, 0, time.UTC)
	limiter := newSlidingWindowLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("user-1") {
		t.Fatal("first placement must be admitted")
	}
	now = now.Add(40 * time.Second)
	if !limiter.Allow("user-1") {
		t.Fatal("second placement must be admitted")
	}

	// 30s later the first stamp has aged out but the second has not: exactly
	// one slot is free again.
	now = now.Add(30 * time.Second)
	if !limiter.Allow("user-1") {
		t.Fatal("slot freed by the aged-out stamp must be admitted")
	}
	if limiter.Allow("user-1") {
		t.Fatal("window still holds two recent placements")
	}
}

func TestSlidingWindowLimiterDisabledForZeroLimit(t *testing.T) {
	if limiter := newSlidingWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("zero limit must disable the limiter")
	}
	if limiter := newSlidingWindowLimiter(5, 0, nil); limiter != nil {
		t.Fatal("zero window must disable the limiter")
	}
}
