package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check pings one backing service.
type Check func(ctx context.Context) error

// CheckResult is the outcome of one Check.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// RunChecks runs every check with the given timeout and returns the results
// sorted by name, plus whether all of them passed.
func RunChecks(ctx context.Context, checks map[string]Check, timeout time.Duration) ([]CheckResult, bool) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := checks[name](cctx)
		cancel()

		r := CheckResult{Name: name, Healthy: err == nil, Latency: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			ok = false
		}
		results = append(results, r)
	}
	return results, ok
}

// HealthHandler reports the state of the backing services. It answers 503
// when any check fails. When pool is non-nil its statistics are included.
func HealthHandler(pool *pgxpool.Pool, checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		results, ok := RunChecks(c.Request().Context(), checks, 5*time.Second)

		body := map[string]interface{}{
			"status": "healthy",
			"checks": results,
		}
		if pool != nil {
			body["pool"] = GetPoolStats(pool)
		}
		if !ok {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
