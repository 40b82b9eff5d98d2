package util

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the id stored in ctx, or "" when there is none.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
func NewRequestID() string {
	return uuid.New().String()
}

// RequestIDFrom reuses a well-formed inbound X-Request-ID so ids survive
// a proxy hop, and mints a new one otherwise.
func RequestIDFrom(r *http.Request) string {
	if h := r.Header.Get(RequestIDHeader); h != "" {
		if id, err := uuid.Parse(h); err == nil {
			return id.String()
		}
	}
	return NewRequestID()
}
