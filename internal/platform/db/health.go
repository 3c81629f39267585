package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the JSON view of pgxpool statistics served on /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	EmptyAcquires   int64  `json:"empty_acquire_count"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		EmptyAcquires:   stat.EmptyAcquireCount(),
	}
}

// Saturated reports whether every connection is checked out; token issuance
// queues behind the pool in that state.
func (s PoolStats) Saturated() bool {
	return s.MaxConns > 0 && s.AcquiredConns >= s.MaxConns
}

type healthResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Pool   PoolStats `json:"pool"`
}

func healthBody(stats PoolStats, pingErr error) (int, healthResponse) {
	if pingErr != nil {
		return http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Error:  Classify(pingErr).Error(),
			Pool:   stats,
		}
	}
	status := "healthy"
	if stats.Saturated() {
		status = "degraded"
	}
	return http.StatusOK, healthResponse{Status: status, Pool: stats}
}

// HealthHandler pings the database and reports pool statistics.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		code, body := healthBody(GetPoolStats(pool), pool.Ping(ctx))
		return c.JSON(code, body)
	}
}
