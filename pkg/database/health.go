package database

import (
	"context"
	"time"
)

// HealthStatus reports event-store reachability, connection pool pressure,
// and the approximate size of the events table.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	PoolInUse    int    `json:"pool_in_use"`
	PoolIdle     int    `json:"pool_idle"`
	PoolMax      int    `json:"pool_max"`
	StoredEvents int64  `json:"stored_events_approx"`
}

// Health pings the store and samples pool statistics. The event count comes
// from the planner estimate, not a full scan, so it lags recent inserts.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.DB().PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	var approx int64
	row := c.DB().QueryRowContext(ctx,
		`SELECT COALESCE(reltuples::bigint, 0) FROM pg_class WHERE relname = 'events'`)
	// Estimate only; a scan error leaves the count at zero.
	_ = row.Scan(&approx)

	stats := c.DB().Stats()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		PoolInUse:    stats.InUse,
		PoolIdle:     stats.Idle,
		PoolMax:      stats.MaxOpenConnections,
		StoredEvents: approx,
	}, nil
}
