package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP request ID.
	RequestIDKey contextKey = "request_id"

	// KeyIDKey carries the pool key ID being checked or used.
	KeyIDKey contextKey = "key_id"
)

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the request ID in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithKeyID attaches a pool key ID to ctx.
func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, KeyIDKey, keyID)
}

// GetKeyID returns the key ID in ctx, or "".
func GetKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(KeyIDKey).(string); ok {
		return id
	}
	return ""
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), id))
	}
	if id := GetKeyID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(KeyIDKey), id))
	}
	return attrs
}
