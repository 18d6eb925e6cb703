// Package middleware provides Echo middleware for logging, metrics and
// response hardening.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// quietPaths are probe endpoints logged at debug level only.
var quietPaths = map[string]struct{}{
	"/healthz":        {},
	"/gateway/status": {},
}

// RequestLogger returns an Echo middleware that writes one access log line
// per request. The level follows the final status: 5xx logs at error, 4xx at
// warn. Cookies, credentials and query strings are never logged.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "access_log")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			status := statusOf(c, err)

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			default:
				if _, ok := quietPaths[req.URL.Path]; ok {
					level = slog.LevelDebug
				}
			}

			logger.LogAttrs(context.Background(), level, "request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_in", max(req.ContentLength, 0)),
				slog.Int64("bytes_out", res.Size),
				slog.Bool("has_cookie", strings.TrimSpace(req.Header.Get("Cookie")) != ""),
			)

			return err
		}
	}
}
