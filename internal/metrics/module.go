package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Module registers the /metrics scrape endpoint once the Echo instance
// exists. The collectors themselves are package-level (see metrics.go) and
// registered with the default registry at import time via promauto.
var Module = fx.Module("metrics",
	fx.Invoke(registerEndpoint),
)

func registerEndpoint(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
