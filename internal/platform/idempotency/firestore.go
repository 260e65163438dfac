package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/firestore"
)

const placementsCollection = "order_placements"

// FirestoreStore persists placement records in Firestore so replay protection
// holds across instances and restarts.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding placement records.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore constructs a Firestore-backed placement store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		provider:   provider,
		collection: placementsCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type placementDoc struct {
	Key         string    `firestore:"key"`
	Requester   string    `firestore:"requester"`
	Digest      string    `firestore:"digest"`
	Stage       string    `firestore:"stage"`
	OrderID     string    `firestore:"orderId"`
	OrderNumber string    `firestore:"orderNumber"`
	StatusCode  int       `firestore:"statusCode"`
	Body        []byte    `firestore:"body"`
	ReservedAt  time.Time `firestore:"reservedAt"`
	CompletedAt time.Time `firestore:"completedAt"`
	ExpiresAt   time.Time `firestore:"expiresAt"`
}

func (d placementDoc) record() Record {
	return Record{
		Key:         d.Key,
		Requester:   d.Requester,
		Digest:      d.Digest,
		Stage:       Stage(d.Stage),
		OrderID:     d.OrderID,
		OrderNumber: d.OrderNumber,
		StatusCode:  d.StatusCode,
		Body:        d.Body,
		ReservedAt:  d.ReservedAt,
		CompletedAt: d.CompletedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

// Begin reserves the key in a transaction: a fresh or expired document is
// claimed for this attempt, an existing one is classified by stage.
func (s *FirestoreStore) Begin(ctx context.Context, key, requester, digest string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := s.provider.Client(ctx)
		if err != nil {
			return err
		}
		ref := client.Collection(s.collection).Doc(recordID(key, requester))

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if err == nil {
			var doc placementDoc
			if decodeErr := snap.DataTo(&doc); decodeErr != nil {
				return decodeErr
			}
			rec := doc.record()
			if !expired(rec, now) {
				if rec.Digest != digest {
					return ErrKeyReused
				}
				if rec.Stage == StageReplayable {
					result = Reservation{State: BeginReplay, Record: rec}
				} else {
					result = Reservation{State: BeginInFlight, Record: rec}
				}
				return nil
			}
		}

		doc := placementDoc{
			Key:        key,
			Requester:  requester,
			Digest:     digest,
			Stage:      string(StageProcessing),
			ReservedAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = Reservation{State: BeginStarted, Record: doc.record()}
		return nil
	})
	return result, err
}

// Complete marks the record replayable with the placement outcome.
func (s *FirestoreStore) Complete(ctx context.Context, key, requester string, placement Placement, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := s.provider.Client(ctx)
		if err != nil {
			return err
		}
		ref := client.Collection(s.collection).Doc(recordID(key, requester))

		var doc placementDoc
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if decodeErr := snap.DataTo(&doc); decodeErr != nil {
				return decodeErr
			}
		case status.Code(err) == codes.NotFound:
			doc = placementDoc{Key: key, Requester: requester, ReservedAt: now}
		default:
			return err
		}

		doc.Stage = string(StageReplayable)
		doc.OrderID = placement.OrderID
		doc.OrderNumber = placement.OrderNumber
		doc.StatusCode = placement.StatusCode
		doc.Body = placement.Body
		doc.CompletedAt = now
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	})
}

// Abandon deletes the record so a later attempt starts fresh.
func (s *FirestoreStore) Abandon(ctx context.Context, key, requester string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.collection).Doc(recordID(key, requester)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// PurgeExpired batch-deletes records past their TTL, up to limit.
func (s *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}
