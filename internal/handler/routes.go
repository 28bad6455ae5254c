package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The origin route is only mounted when an origin is configured.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, adapt *AdaptHandler, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/service/status", health.Status)

	e.POST("/adapt", adapt.Handle)

	if proxy.service.OriginEnabled() {
		e.Any("/origin/*", proxy.Handle)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
