package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// Health is the probe result for one shard. Error carries the failure text
// when Connectable is false; SizeBytes and Connections are best-effort and
// stay zero when the metric queries fail.
type Health struct {
	Shard       string        `json:"shard"`
	Connectable bool          `json:"connectable"`
	Latency     time.Duration `json:"latency"`
	SizeBytes   int64         `json:"size_bytes"`
	Connections int           `json:"connections"`
	Error       string        `json:"error,omitempty"`
}

// HealthChecker probes shard databases. Check converts every failure into a
// result value; it never returns a Go error, so callers can always render a
// full report.
type HealthChecker struct {
	shards *persistence.ShardRegistry
	logger *zap.Logger
}

// NewHealthChecker constructs a checker over the shard registry.
func NewHealthChecker(shards *persistence.ShardRegistry, logger *zap.Logger) *HealthChecker {
	if shards == nil {
		panic("shard registry is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &HealthChecker{shards: shards, logger: logger}
}

// Check probes one shard: a trivial query for connectivity and latency, then
// database size and connection count.
func (h *HealthChecker) Check(ctx context.Context, shard string) Health {
	result := Health{Shard: shard}

	pool, err := h.shards.Pool(shard)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	var one int
	if err := pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		result.Error = err.Error()
		h.logger.Warn("shard unreachable", zap.String("shard", shard), zap.Error(err))
		return result
	}
	result.Connectable = true
	result.Latency = time.Since(start)

	if err := pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&result.SizeBytes); err != nil {
		h.logger.Debug("shard size metric unavailable", zap.String("shard", shard), zap.Error(err))
	}
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_stat_activity WHERE datname = current_database()`).Scan(&result.Connections); err != nil {
		h.logger.Debug("shard connection metric unavailable", zap.String("shard", shard), zap.Error(err))
	}

	return result
}

// CheckAll probes every configured shard, in stable name order.
func (h *HealthChecker) CheckAll(ctx context.Context) []Health {
	names := h.shards.Names()
	results := make([]Health, 0, len(names))
	for _, name := range names {
		results = append(results, h.Check(ctx, name))
	}
	return results
}
