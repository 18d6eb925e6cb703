package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"buck3t-gateway/internal/config"
	"buck3t-gateway/internal/metrics"
)

// Routes groups the handlers mounted by RegisterRoutes.
type Routes struct {
	Objects *ObjectsHandler
	Session *SessionHandler
	Health  *HealthHandler
}

// NewRoutes bundles the route handlers.
func NewRoutes(objects *ObjectsHandler, session *SessionHandler, health *HealthHandler) *Routes {
	return &Routes{Objects: objects, Session: session, Health: health}
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// m may be nil, in which case no metrics endpoint is mounted.
func RegisterRoutes(e *echo.Echo, r *Routes, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", r.Health.Healthz)
	e.GET("/gateway/status", r.Health.Status)
	if m != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	api := e.Group("/api")
	api.GET("/ping", r.Health.Ping)

	// Uploads are bounded by backend.max_upload_size inside the service,
	// so no BodyLimit here.
	api.GET("/objects", r.Objects.List)
	api.GET("/objects/*", r.Objects.Get)
	api.HEAD("/objects/*", r.Objects.Head)
	api.PUT("/objects/*", r.Objects.Put)
	api.DELETE("/objects/*", r.Objects.Delete)

	session := api.Group("/auth", echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	session.POST("/signup", r.Session.Signup)
	session.POST("/login", r.Session.Login)
	session.POST("/logout", r.Session.Logout)
}
