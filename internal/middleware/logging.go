// Package middleware provides Echo middleware for logging and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// sensitiveHeaders are replaced with a placeholder before headers reach a
// log line.
var sensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"Api-Key",
	"Proxy-Authorization",
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Request headers are logged at debug level only, with sensitive values
// redacted.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			if logger.Enabled(req.Context(), slog.LevelDebug) {
				logger.Debug("request headers",
					"method", req.Method,
					"path", req.URL.Path,
					"headers", RedactHeaders(req.Header),
				)
			}

			err := next(c)

			res := c.Response()

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// RedactHeaders returns a copy of the headers with sensitive values
// replaced, safe to hand to a log call.
func RedactHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if isSensitiveHeader(key) {
			dst[key] = []string{"[REDACTED]"}
			continue
		}
		dst[key] = vals
	}
	return dst
}

func isSensitiveHeader(key string) bool {
	for _, s := range sensitiveHeaders {
		if strings.EqualFold(key, s) {
			return true
		}
	}
	return false
}
