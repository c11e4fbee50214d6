package internal

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	RequestIDKey    contextKey = "request_id"
	AssistantKeyKey contextKey = "assistant_key"
)

// NewRequestID creates a unique request ID for tracing
func NewRequestID() string {
	return "req_" + strings.Split(uuid.NewString(), "-")[0]
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAssistantKey retrieves the resolved assistant key from context
func GetAssistantKey(ctx context.Context) string {
	if key, ok := ctx.Value(AssistantKeyKey).(string); ok {
		return key
	}
	return ""
}

// WithAssistantKey records the resolved assistant key in the context
func WithAssistantKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, AssistantKeyKey, key)
}
