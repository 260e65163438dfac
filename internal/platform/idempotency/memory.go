package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps placement records in process memory. It backs local
// development and tests; replay protection does not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty in-memory placement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Begin reserves the key for this attempt, or reports the existing record.
func (s *MemoryStore) Begin(_ context.Context, key, requester, digest string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key, requester)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[id]
	if !found || expired(rec, now) {
		rec = Record{
			Key:        key,
			Requester:  requester,
			Digest:     digest,
			Stage:      StageProcessing,
			ReservedAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		s.records[id] = rec
		return Reservation{State: BeginStarted, Record: rec}, nil
	}

	if rec.Digest != digest {
		return Reservation{}, ErrKeyReused
	}
	if rec.Stage == StageReplayable {
		return Reservation{State: BeginReplay, Record: rec}, nil
	}
	return Reservation{State: BeginInFlight, Record: rec}, nil
}

// Complete stores the placement outcome, making the record replayable.
func (s *MemoryStore) Complete(_ context.Context, key, requester string, placement Placement, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key, requester)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[id]
	if !found {
		rec = Record{Key: key, Requester: requester, ReservedAt: now}
	}
	rec.Stage = StageReplayable
	rec.OrderID = placement.OrderID
	rec.OrderNumber = placement.OrderNumber
	rec.StatusCode = placement.StatusCode
	if len(placement.Body) > 0 {
		rec.Body = append([]byte(nil), placement.Body...)
	} else {
		rec.Body = nil
	}
	rec.CompletedAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.records[id] = rec
	return nil
}

// Abandon frees the key so a later attempt starts fresh.
func (s *MemoryStore) Abandon(_ context.Context, key, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID(key, requester))
	return nil
}

// PurgeExpired drops records past their TTL, up to limit.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	purged := 0
	for id, rec := range s.records {
		if !expired(rec, now) {
			continue
		}
		delete(s.records, id)
		purged++
		if purged >= limit {
			break
		}
	}
	return purged, nil
}
