package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"scenehub/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns each request a uuid (or propagates the one the
// caller supplied) and stores it in the request context for logs and spans.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// JSONMiddleware rejects mutating requests whose body is not JSON.
func JSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut || c.Request.Method == http.MethodPatch {
			contentType := c.ContentType()
			if contentType != "" && contentType != "application/json" {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, ErrorResponse{
					Status: "error",
					Error:  "Content-Type must be application/json",
				})
				return
			}
		}

		c.Next()
	}
}

// TracingMiddleware opens one span per request. A nil provider disables it.
func TracingMiddleware(tracer *observability.TracerProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tracer == nil {
			c.Next()
			return
		}

		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
	}
}

// AccessLogMiddleware emits one structured record per request. Request and
// user IDs carried in the context are attached automatically.
func AccessLogMiddleware(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	}
}
