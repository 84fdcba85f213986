package logtrace

import (
	"context"
)

type requestIDKey struct{}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIdFromContext extracts the request ID from the context.
// Returns an empty string if the context is nil or if no request ID is found.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIDKey{}).(string)
	if !ok {
		return ""
	}
	return r
}

// IsTraceEnabled reports whether route tracing is enabled via AGENTGW_TRACE.
func IsTraceEnabled() bool {
	return traceEnabled
}

var traceEnabled bool

// SetTraceEnabled toggles route tracing at startup.
func SetTraceEnabled(on bool) {
	traceEnabled = on
}
