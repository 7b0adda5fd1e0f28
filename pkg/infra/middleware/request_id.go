// Package middleware provides the gin middleware chain of the RAG service.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
)

// HeaderXRequestID is the header name for request ID.
const HeaderXRequestID = "X-Request-ID"

type requestIDKey struct{}

// GetRequestID returns the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores the request ID in the context and in its logger fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return ctxlog.WithRequestID(context.WithValue(ctx, requestIDKey{}, requestID), requestID)
}

var requestIDCounter uint64

// GenerateRequestID generates a random request ID.
// If random generation fails, it falls back to a time and counter based ID.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if n, err := rand.Read(b); err != nil || n != len(b) {
		return fmt.Sprintf("%x-%x", time.Now().Unix(), atomic.AddUint64(&requestIDCounter, 1))
	}
	return hex.EncodeToString(b)
}

// RequestID returns a middleware that adds a unique request ID to each request.
// An incoming X-Request-ID header is kept. The ID is echoed in the response
// header and stored in the request context, together with the trace ids of
// an active span.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		c.Header(HeaderXRequestID, requestID)
		ctx := ctxlog.ExtractOpenTelemetryFields(WithRequestID(c.Request.Context(), requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
