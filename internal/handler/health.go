package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	engine  *service.Engine
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, e *service.Engine, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, engine: e, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the registered service and the settings it activated with.
func (h *HealthHandler) Status(c echo.Context) error {
	desc := h.engine.Descriptor()
	settings := h.engine.Settings()

	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          string(h.version),
		"service":          desc.Name,
		"description":      desc.Description,
		"methods":          desc.Methods.String(),
		"preview_size":     settings.PreviewSize,
		"allow_204":        settings.Allow204,
		"transfer_preview": settings.TransferPreview,
		"carry_over":       h.cfg.Service.CarryOver,
		"marker_enabled":   len(h.cfg.Service.Marker.Source) == len(h.cfg.Service.Marker.Replacement),
		"upstream_url":     h.cfg.Upstream.BaseURL,
	})
}
