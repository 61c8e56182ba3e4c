package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/etewiah/property-web-builder-sub002/database"
)

// applyDDL splits an embedded SQL asset into statements and executes them.
// Startup and tests both bootstrap through this rather than an external
// migration runner; every statement is IF NOT EXISTS so re-running is safe.
func applyDDL(ctx context.Context, pool *pgxpool.Pool, ddl string) error {
	var kept []string
	for _, line := range strings.Split(ddl, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	for _, raw := range strings.Split(strings.Join(kept, "\n"), ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl statement: %w", err)
		}
	}
	return nil
}

// ApplyControlPlaneDDL creates the control-plane tables (users, websites,
// subdomains, memberships, shard audit log).
func ApplyControlPlaneDDL(ctx context.Context, pool *pgxpool.Pool) error {
	return applyDDL(ctx, pool, sqlassets.ControlPlaneSQL)
}

// ApplyShardSpaceDDL creates the tenant-resident content tables on a shard.
func ApplyShardSpaceDDL(ctx context.Context, pool *pgxpool.Pool) error {
	return applyDDL(ctx, pool, sqlassets.ShardSpaceSQL)
}
