package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/metrics"
	"github.com/ajitpratap0/brick2/pkg/observability"
)

// Request headers
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderRequestTimeout = "X-Request-Timeout"
)

// RequestIDMiddleware propagates the caller's request id or assigns one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// TracingMiddleware continues a remote trace from the request headers
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := observability.Extract(c.Request.Context(), c.Request.Header)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLogMiddleware logs each request and records HTTP metrics
func AccessLogMiddleware(log *zap.Logger, reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		reg.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", logger.RequestID(c.Request.Context())),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", append(fields, zap.String("error", c.Errors.String()))...)
		case status >= http.StatusBadRequest:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request served", fields...)
		}
	}
}

// RecoveryMiddleware turns handler panics into 500 responses
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", logger.RequestID(c.Request.Context())),
					zap.Stack("stack"))
				respondError(c, errors.Newf(errors.ErrorTypeInternal, "panic: %v", r))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORSMiddleware allows the configured origins; "*" allows any
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID, X-Request-Timeout")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// DeadlineMiddleware bounds the request context by the X-Request-Timeout
// header, capped at max, or by def when the header is absent
func DeadlineMiddleware(def, max time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := def
		if h := c.GetHeader(HeaderRequestTimeout); h != "" {
			d, err := parseTimeout(h)
			if err != nil {
				respondError(c, err)
				c.Abort()
				return
			}
			timeout = d
			if max > 0 && timeout > max {
				timeout = max
			}
		}
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// parseTimeout accepts a Go duration ("250ms") or whole milliseconds
func parseTimeout(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, errors.New(errors.ErrorTypeValidation, "request timeout must be positive").
				WithDetail("header", HeaderRequestTimeout)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "invalid request timeout %q", s).
			WithDetail("header", HeaderRequestTimeout)
	}
	return d, nil
}
