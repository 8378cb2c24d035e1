package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// Pinger is any dependency the health check can ping.
type Pinger func(ctx context.Context) error

// GET /
func Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "WhatsApp session gateway is running",
		"version": Version,
	})
}

// GET /health
func Health(checks map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		return c.JSON(status, map[string]any{
			"success": status == http.StatusOK,
			"checks":  results,
		})
	}
}
