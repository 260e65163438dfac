package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.headerName = trimmed
		}
	}
}

// WithTTL configures how long placement records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware guards order placement. A POST carrying an idempotency key is
// executed once; retries with the same key and payload replay the stored
// outcome, and reuse of a key for a different payload is rejected. Requests
// without mutation semantics pass through untouched.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required",
					"the "+cfg.headerName+" header is required when placing an order", http.StatusBadRequest))
				return
			}

			body, err := snapshotBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("request_read_failed",
					"unable to read request body", http.StatusInternalServerError))
				return
			}

			requester := requesterID(ctx)
			digest := placementDigest(r, body, requester)
			now := cfg.clock().UTC()

			reservation, err := store.Begin(ctx, key, requester, digest, now, cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReused) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused",
						"idempotency key was already used for a different order request", http.StatusConflict))
					return
				}
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: begin failed for key %s: %v", key, err)
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error",
					"unable to check idempotency key", http.StatusInternalServerError))
				return
			}

			switch reservation.State {
			case BeginReplay:
				serveReplay(w, reservation.Record)
				return
			case BeginInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("placement_in_progress",
					"an order placement with this idempotency key is still processing", http.StatusConflict))
				return
			}

			tap := &responseTap{ResponseWriter: w}
			next.ServeHTTP(tap, r)

			// A server-side failure is not worth replaying: free the key so the
			// client can retry the placement.
			if tap.StatusCode() >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, key, requester); err != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: abandon failed for key %s: %v", key, err)
				}
				return
			}

			placement := Placement{
				StatusCode: tap.StatusCode(),
				Body:       tap.BodyCopy(),
			}
			if tap.StatusCode() == http.StatusCreated {
				placement.OrderID, placement.OrderNumber = orderIdentifiers(placement.Body)
			}

			// If the outcome cannot be persisted the reservation is deliberately
			// kept: retries see it in-flight until the TTL lapses, which is the
			// safe side of the trade against placing the order twice.
			if err := store.Complete(ctx, key, requester, placement, cfg.clock().UTC(), cfg.ttl); err != nil && cfg.logger != nil {
				cfg.logger.Printf("idempotency: complete failed for key %s (order %s): %v", key, placement.OrderID, err)
			}
		})
	}
}

// snapshotBody consumes the request body and puts a rewound copy back so the
// handler can read it again.
func snapshotBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// placementDigest ties the key to the exact placement request: the verified
// caller, the route, and the payload.
func placementDigest(r *http.Request, body []byte, requester string) string {
	parts := []string{
		requester,
		strings.ToUpper(r.Method),
		r.URL.Path,
		hashBytes(body),
	}
	return hashBytes([]byte(strings.Join(parts, "\x00")))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// orderIdentifiers pulls the order id and number out of a successful placement
// response so the replay record points at the order it stands for.
func orderIdentifiers(body []byte) (id, number string) {
	var envelope struct {
		Order struct {
			ID          string `json:"id"`
			OrderNumber string `json:"order_number"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}
	return envelope.Order.ID, envelope.Order.OrderNumber
}

func serveReplay(w http.ResponseWriter, rec Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayHeaderName, "true")
	if rec.OrderID != "" {
		w.Header().Set("X-Order-Id", rec.OrderID)
	}

	status := rec.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(rec.Body) > 0 {
		_, _ = w.Write(rec.Body)
	}
}

// responseTap writes through to the client while keeping a copy of the status
// and body for the placement record.
type responseTap struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (t *responseTap) WriteHeader(status int) {
	if t.status == 0 {
		t.status = status
	}
	t.ResponseWriter.WriteHeader(status)
}

func (t *responseTap) Write(data []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	t.body.Write(data)
	return t.ResponseWriter.Write(data)
}

func (t *responseTap) StatusCode() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

func (t *responseTap) BodyCopy() []byte {
	if t.body.Len() == 0 {
		return nil
	}
	return append([]byte(nil), t.body.Bytes()...)
}
