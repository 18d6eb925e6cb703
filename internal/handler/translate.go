package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"buck3t-gateway/internal/client"
	"buck3t-gateway/internal/keycodec"
	"buck3t-gateway/internal/model"
	"buck3t-gateway/internal/service"
)

// bearerPattern matches bearer credentials embedded in error messages.
var bearerPattern = regexp.MustCompile(`(?i)(Bearer\s+)\S+`)

// translate relays a backend response: filtered headers first, then the
// backend status unchanged, then the body as it arrives.
func translate(c echo.Context, logger *slog.Logger, op model.Operation, resp *model.ProxyResponse) error {
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	switch {
	case op == model.OpList:
		dst.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	case len(dst.Values(echo.HeaderContentType)) == 0:
		// A nil entry stops net/http from sniffing a type the backend never sent.
		dst[echo.HeaderContentType] = nil
	}

	c.Response().WriteHeader(resp.StatusCode)

	if op == model.OpHead || !bodyAllowed(resp.StatusCode) {
		return nil
	}

	// The status line is already out, so a failed copy can only truncate.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		logger.Error("streaming response body",
			"op", op,
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

// bodyAllowed reports whether status permits a response body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// mapError writes the response for a request that got no usable backend
// response. It is the only place the gateway picks a status code itself.
func mapError(c echo.Context, logger *slog.Logger, op model.Operation, err error) error {
	path := c.Request().URL.Path

	var uerr *client.UpstreamError
	switch {
	case errors.As(err, &uerr):
		logger.Error("backend unreachable",
			"op", op,
			"reason", uerr.Reason,
			"err", sanitizeError(err),
			"path", path,
		)
		return c.String(http.StatusBadGateway, "failed to reach backend: "+uerr.Reason)

	case errors.Is(err, service.ErrUploadTooLarge):
		logger.Warn("upload rejected", "op", op, "path", path)
		return c.String(http.StatusRequestEntityTooLarge, "upload exceeds size limit")

	case errors.Is(err, keycodec.ErrInvalidKey):
		logger.Warn("invalid object key", "op", op, "err", err, "path", path)
		return c.String(http.StatusBadRequest, "invalid object key")
	}

	logger.Error("proxy error",
		"op", op,
		"err", sanitizeError(err),
		"path", path,
	)
	return c.String(http.StatusBadGateway, "invalid response from backend")
}

// sanitizeError redacts bearer tokens from error messages.
func sanitizeError(err error) string {
	return bearerPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
