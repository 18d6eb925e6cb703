package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"buck3t-gateway/internal/config"
	"buck3t-gateway/internal/model"
	"buck3t-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	service *service.GatewayService
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, svc *service.GatewayService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		version: v,
		service: svc,
		logger:  logger.With("component", "health_handler"),
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     string(h.version),
		"backend_url": h.cfg.Backend.BaseURL,
	})
}

// Ping relays the backend health endpoint.
func (h *HealthHandler) Ping(c echo.Context) error {
	resp, err := h.service.Ping(c.Request().Context())
	if err != nil {
		return mapError(c, h.logger, model.OpPing, err)
	}
	return translate(c, h.logger, model.OpPing, resp)
}
