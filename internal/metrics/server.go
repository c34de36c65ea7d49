package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthFunc reports the current health document served on /healthz.
type HealthFunc func() any

// NewServer builds the echo instance serving /metrics and /healthz.
func NewServer(health HealthFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(EchoMiddleware())

	e.GET("/metrics", echo.WrapHandler(Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, health())
	})
	return e
}

// StartServer serves metrics and health on addr in the background. The
// returned function shuts the server down.
func StartServer(addr string, health HealthFunc) (stop func()) {
	e := NewServer(health)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Metrics are non-critical; the agent keeps running.
			log.Printf("metrics: server on %s failed: %v", addr, err)
		}
	}()
	log.Printf("metrics: serving /metrics and /healthz on %s", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}
}
