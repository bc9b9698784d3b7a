package handler

import (
	"context"
	"net/http"
	"time"

	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// HealthCheck pings every backing dependency. Any failure reports
// "degraded" with 503 so load balancers stop routing here.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := "healthy"
		httpStatus := http.StatusOK
		checks := make(map[string]string, len(checkers))

		for _, checker := range checkers {
			if err := checker.Ping(ctx); err != nil {
				checks[checker.Name()] = "unhealthy: " + err.Error()
				status = "degraded"
				httpStatus = http.StatusServiceUnavailable
			} else {
				checks[checker.Name()] = "healthy"
			}
		}

		c.JSON(httpStatus, gin.H{
			"status": status,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
