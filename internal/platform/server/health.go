package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Check tests one dependency, e.g. a database or redis ping.
type Check func(ctx context.Context) error

// RegisterHealth mounts GET /health. It answers 503 when any check fails.
func RegisterHealth(e *echo.Echo, service string, checks map[string]Check) {
	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.JSON(code, map[string]interface{}{
			"status":  status,
			"service": service,
			"checks":  results,
			"time":    time.Now().Format(time.RFC3339),
		})
	})
}
