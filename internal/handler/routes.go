package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shelf-proxy-go/internal/config"
	"shelf-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy
// catch-all matches everything the named routes don't.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/*", proxy.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
// The metrics route is more specific than the proxy catch-all, so it shadows
// the configured path.
func RegisterMetrics(e *echo.Echo, m *metrics.Metrics, cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))
}
