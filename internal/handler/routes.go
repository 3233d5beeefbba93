package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"node-proxy-bridge-go/internal/config"
	"node-proxy-bridge-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Service
// endpoints are registered before the forwarding catch-all; the resolver
// rejects their single-segment paths anyway, so a typo'd probe never turns
// into an upstream call.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	e.Any("/*", proxy.Handle)
}
