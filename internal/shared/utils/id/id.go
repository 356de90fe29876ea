// Package id centralizes identifier generation and log-id context
// propagation. Grounded on the teacher's internal/shared/utils/id
// (generator_test.go) and its pervasive LogIDFromContext/WithLogID usage.
package id

import (
	"context"

	"github.com/google/uuid"
)

type ctxKeyLogID struct{}

// WithLogID returns a context carrying the correlation id.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyLogID{}, logID)
}

// LogIDFromContext extracts the correlation id, or "" if absent.
func LogIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKeyLogID{}).(string)
	return v
}

// NewLogID returns a fresh correlation id.
func NewLogID() string {
	return "log-" + uuid.NewString()
}

// New returns a fresh unprefixed UUID string.
func New() string {
	return uuid.NewString()
}

// NewRequestID returns a request id, optionally chained off an existing
// log id so traces stay correlated across a turn.
func NewRequestID(logID string) string {
	if logID == "" {
		return "req-" + uuid.NewString()
	}
	return "req-" + logID + "-" + uuid.NewString()[:8]
}

// NewExecutionID returns a random execution id (spec.md §4.6.b: "random
// 12-hex").
func NewExecutionID() string {
	full := uuid.New()
	b := full[:6]
	const hex = "0123456789abcdef"
	out := make([]byte, 12)
	for i, v := range b {
		out[2*i] = hex[v>>4]
		out[2*i+1] = hex[v&0x0f]
	}
	return string(out)
}
