package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const storeHealthTimeout = 5 * time.Second

// Record store states reported on /health/db.
const (
	StoreUp       = "up"
	StoreDegraded = "degraded"
	StoreDown     = "down"
)

// StoreHealth is the body of /health/db. Degraded means the database answers
// but the default practice schema has not been provisioned yet.
type StoreHealth struct {
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	DefaultPractice string    `json:"default_practice,omitempty"`
	Pool            PoolStats `json:"pool"`
}

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
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
	}
}

// HealthHandler pings the record store and checks that the default
// practice schema exists.
func HealthHandler(pool *pgxpool.Pool, defaultTenant string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), storeHealthTimeout)
		defer cancel()

		body := StoreHealth{Status: StoreUp}
		if defaultTenant != "" {
			body.DefaultPractice = SchemaForTenant(defaultTenant)
		}

		if err := pool.Ping(ctx); err != nil {
			body.Status, body.Error = StoreDown, err.Error()
			body.Pool = GetPoolStats(pool)
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		if body.DefaultPractice != "" {
			var exists bool
			err := pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
				body.DefaultPractice).Scan(&exists)
			switch {
			case err != nil:
				body.Status, body.Error = StoreDegraded, err.Error()
			case !exists:
				body.Status, body.Error = StoreDegraded, "default practice schema is not provisioned"
			}
		}

		body.Pool = GetPoolStats(pool)
		return c.JSON(http.StatusOK, body)
	}
}
