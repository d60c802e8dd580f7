// Package middleware provides HTTP middleware for the integration backend.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Header-sourced span attributes are truncated to these bounds so a
// hostile client cannot inflate span payloads.
const (
	MaxRequestIDLength = 128
	MaxActorLength     = 256
)

// TracingConfig configures the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns the standard tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "cmp-backend", Enabled: true}
}

// Tracing returns the tracing middleware with default configuration.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig wraps otelgin and enriches its server span with the
// request_id and actor attributes. Span names follow otelgin's
// "METHOD route" convention.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	otel := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		otel(c)

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if requestID := tracedRequestID(c); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if actor := truncate(c.GetHeader("X-Actor"), MaxActorLength); actor != "" {
			span.SetAttributes(attribute.String("actor", actor))
		}
	}
}

// tracedRequestID prefers the ID minted by the request-ID middleware and
// falls back to the client-supplied header.
func tracedRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return truncate(c.GetHeader("X-Request-ID"), MaxRequestIDLength)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// SpanErrorMarker marks the active span failed on 4xx/5xx responses.
// Place it after Tracing in the chain.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}

		message := "Client Error"
		switch {
		case status >= http.StatusInternalServerError:
			message = "Internal Server Error"
		case status == http.StatusTooManyRequests:
			message = "Too Many Requests"
		case status == http.StatusNotFound:
			message = "Not Found"
		}
		span.SetStatus(codes.Error, message)
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}
