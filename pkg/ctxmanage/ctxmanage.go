package ctxmanage

import (
	"context"

	"github.com/gin-gonic/gin"
)

type traceIdKey struct{}

// TraceIdKey is the request context key holding the per-request trace id.
var TraceIdKey = traceIdKey{}

// WithTraceId stores the trace id in ctx.
func WithTraceId(ctx context.Context, traceId string) context.Context {
	return context.WithValue(ctx, TraceIdKey, traceId)
}

// GetTraceId returns the trace id stored in ctx, or "Unknown".
func GetTraceId(ctx context.Context) string {
	traceId, ok := ctx.Value(TraceIdKey).(string)
	if !ok || traceId == "" {
		return "Unknown"
	}
	return traceId
}

func GetTraceIdOfRequest(c *gin.Context) string {
	return GetTraceId(c.Request.Context())
}
