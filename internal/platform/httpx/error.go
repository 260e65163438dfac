package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/requestctx"
)

// Error is the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// errorBody is the wire shape of the envelope.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`

	extra map[string]any
}

func (b errorBody) MarshalJSON() ([]byte, error) {
	type plain errorBody
	if len(b.extra) == 0 {
		return json.Marshal(plain(b))
	}
	merged := make(map[string]any, len(b.extra)+5)
	for k, v := range b.extra {
		merged[k] = v
	}
	merged["error"] = b.Error
	merged["message"] = b.Message
	merged["status"] = b.Status
	if b.RequestID != "" {
		merged["request_id"] = b.RequestID
	}
	if b.TraceID != "" {
		merged["trace_id"] = b.TraceID
	}
	return json.Marshal(merged)
}

// NewError constructs an Error with the provided code, message, and status.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    flatten(code, 80),
		Message: flatten(message, 512),
		Status:  status,
	}
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = flatten(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = flatten(id, 64)
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	e.Details = copied
	return e
}

// WriteError writes the envelope as JSON, filling in the request and trace
// identifiers from context when the caller did not set them.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := errorBody{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
		extra:     err.Details,
	}
	if body.RequestID == "" {
		body.RequestID = flatten(middleware.GetReqID(ctx), 80)
	}
	if body.TraceID == "" {
		body.TraceID = flatten(requestctx.TraceID(ctx), 64)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var newlineReplacer = strings.NewReplacer("\n", " ", "\r", " ")

// flatten folds newlines and bounds length so values are safe inside a
// single-line JSON envelope.
func flatten(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.TrimSpace(newlineReplacer.Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
