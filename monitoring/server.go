package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler exposes the Prometheus registry next to a liveness probe.
func NewMetricsHandler() *echo.Echo {
	e := echo.New()
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

// Serve runs the metrics server until ctx is done.
func Serve(ctx context.Context, port string) error {
	sc := echo.StartConfig{
		Address:         ":" + port,
		HideBanner:      true,
		HidePort:        true,
		GracefulContext: ctx,
		GracefulTimeout: 5 * time.Second,
	}
	if err := sc.Start(NewMetricsHandler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
