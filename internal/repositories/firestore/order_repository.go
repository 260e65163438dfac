package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	pfirestore "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/firestore"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/pagination"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
//
// Optimistic concurrency is enforced inside a transaction: Update reads the
// stored document, compares its version against the caller's copy, and writes
// version+1. A mismatch aborts with a conflict.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection)
	return &OrderRepository{
		provider: provider,
		orders:   base,
	}, nil
}

// Insert creates the order document. The document must not already exist.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return pfirestore.WrapError("orders.insert", status.Error(codes.InvalidArgument, "order id is required"))
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	// Create (not Set) so a duplicate insert surfaces as a conflict.
	_, err = client.Collection(ordersCollection).Doc(ref.ID).Create(ctx, order)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update persists the order if and only if the stored version matches
// order.Version, bumping the version by exactly one. The returned order carries
// the new version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, pfirestore.WrapError("orders.update", status.Error(codes.InvalidArgument, "order id is required"))
	}

	order.ID = id
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var stored domain.Order
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}

		next, err := versionedWrite(stored, order)
		if err != nil {
			return err
		}
		updated = next
		return tx.Set(ref, next)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}

	return updated, nil
}

// versionedWrite produces the document written by one transaction attempt. The
// stored version is compared against the version the caller read, and the
// write is a fresh copy at version+1. The caller's order is never mutated: the
// transaction closure can be re-executed after an aborted commit, and a
// retried attempt must compare against the caller's original read, not a
// version a previous attempt tried to write. Without that, a transition that
// landed between attempts would be silently overwritten instead of surfacing
// a conflict.
func versionedWrite(stored, caller domain.Order) (domain.Order, error) {
	if stored.Version != caller.Version {
		return domain.Order{}, status.Errorf(codes.FailedPrecondition,
			"order %s version mismatch: stored %d, caller %d", caller.ID, stored.Version, caller.Version)
	}
	next := caller
	next.Version = caller.Version + 1
	return next, nil
}

// FindByID fetches the order document by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// List returns the orders matching the filter, newest first, with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := pagination.ClampPageSize(filter.PageSize)

	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list",
			status.Errorf(codes.InvalidArgument, "invalid page token: %v", err))
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.CreatedAfter != nil {
			query = query.Where("createdAt", ">", filter.CreatedAfter.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := cursorStart(cursor); ok {
			query = query.StartAfter(after...)
		}
		// Fetch one extra row to learn whether another page exists.
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.Data
		order.ID = doc.ID
		page.Items = append(page.Items, order)
	}

	if hasMore && len(docs) > 0 {
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
		}
		page.NextPageToken = token
	}

	return page, nil
}

func cursorStart(cursor pagination.Cursor) ([]any, bool) {
	if len(cursor.StartAfter) != 2 {
		return nil, false
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, false
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return nil, false
	}
	return []any{createdAt, docID}, true
}
