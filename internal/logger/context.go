package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// WithCallID adds a call id to the context.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallID, callID)
}

// WithTraceID adds a trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ContextKeyTraceID, traceID)
}

// WithHook adds the active hook name to the context.
func WithHook(ctx context.Context, hook string) context.Context {
	return context.WithValue(ctx, ContextKeyHook, hook)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GenerateID generates a short random hex id.
func GenerateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes) //nolint:errcheck
	return hex.EncodeToString(bytes)
}
