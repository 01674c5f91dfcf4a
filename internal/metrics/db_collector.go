package metrics

import (
	"database/sql"
	"log/slog"
	"time"
)

// DBStatsCollector periodically exports database/sql pool statistics.
type DBStatsCollector struct {
	db     *sql.DB
	logger *slog.Logger
	stopCh chan struct{}
}

// NewDBStatsCollector creates a collector for the given database handle.
func NewDBStatsCollector(db *sql.DB, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{
		db:     db,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals.
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("database stats collector started", slog.Duration("interval", interval))
}

// Stop stops the collector.
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *DBStatsCollector) collect() {
	if c.db == nil {
		return
	}
	stats := c.db.Stats()
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}

// RecordQueryDuration records the duration of one database operation.
func RecordQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TimeQuery times a database operation.
// Usage: defer metrics.TimeQuery("insert_event")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		RecordQueryDuration(operation, time.Since(start))
	}
}
