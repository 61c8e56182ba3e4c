package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// migrationEnv wires one container into an admin database plus two shard
// databases, mirroring the production topology at its smallest.
type migrationEnv struct {
	admin    *pgxpool.Pool
	shardA   *pgxpool.Pool
	shardB   *pgxpool.Pool
	shards   *persistence.ShardRegistry
	websites *persistence.WebsiteStore
	migrator *Migrator
	svc      *Service
}

func newMigrationEnv(t *testing.T) *migrationEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("admin"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	adminURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	admin, err := pgxpool.New(ctx, adminURL)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	_, err = admin.Exec(ctx, "CREATE DATABASE shard_a")
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE shard_b")
	require.NoError(t, err)

	require.NoError(t, persistence.ApplyControlPlaneDDL(ctx, admin))

	shardPool := func(name string) *pgxpool.Pool {
		pool, err := pgxpool.New(ctx, strings.Replace(adminURL, "/admin?", "/"+name+"?", 1))
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		require.NoError(t, persistence.ApplyShardSpaceDDL(ctx, pool))
		return pool
	}

	env := &migrationEnv{
		admin:    admin,
		shardA:   shardPool("shard_a"),
		shardB:   shardPool("shard_b"),
		websites: persistence.NewWebsiteStore(),
	}
	env.shards = persistence.NewShardRegistryFromPools(map[string]*pgxpool.Pool{
		"shard_a": env.shardA,
		"shard_b": env.shardB,
	})

	logger := zap.NewNop()
	env.migrator = NewMigrator(admin, env.shards, logger)
	env.svc = New(admin, env.shards, NewHealthChecker(env.shards, logger), logger)
	return env
}

func (e *migrationEnv) createWebsite(t *testing.T, subdomain, shard string) persistence.WebsiteRecord {
	t.Helper()

	site, err := e.websites.Create(context.Background(), e.admin, persistence.WebsiteRecord{
		Subdomain:         subdomain,
		ShardName:         shard,
		SiteType:          "agency",
		ProvisioningState: "live",
		SeedPackName:      "default",
		OwnerEmail:        subdomain + "@example.com",
	})
	require.NoError(t, err)
	return site
}

func (e *migrationEnv) seedLinks(t *testing.T, pool *pgxpool.Pool, websiteID int64, n int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := pool.Exec(ctx,
			`INSERT INTO links (website_id, slug, title, sort_order) VALUES ($1, $2, $3, $4)`,
			websiteID, fmt.Sprintf("link-%d", i), fmt.Sprintf("Link %d", i), i)
		require.NoError(t, err)
	}
}

func (e *migrationEnv) countLinks(t *testing.T, pool *pgxpool.Pool, websiteID int64) int64 {
	t.Helper()

	var count int64
	err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM links WHERE website_id = $1`, websiteID).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestMigrateMovesAllRowsInBatches(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	site := env.createWebsite(t, "batch-site", "shard_a")
	env.seedLinks(t, env.shardA, site.ID, 1200)

	report, err := env.migrator.Migrate(ctx, site.ID, "shard_b", MigrateOptions{
		BatchSize: 500,
		ChangedBy: "test",
	})
	require.NoError(t, err)
	require.Equal(t, "shard_a", report.FromShard)
	require.Equal(t, "shard_b", report.ToShard)
	require.False(t, report.DryRun)

	var links *TableResult
	for i := range report.Tables {
		if report.Tables[i].Table == "links" {
			links = &report.Tables[i]
		}
	}
	require.NotNil(t, links)
	require.EqualValues(t, 1200, links.Rows)
	require.Equal(t, 3, links.Batches)

	require.Zero(t, env.countLinks(t, env.shardA, site.ID))
	require.EqualValues(t, 1200, env.countLinks(t, env.shardB, site.ID))

	got, err := env.websites.Get(ctx, env.admin, site.ID)
	require.NoError(t, err)
	require.Equal(t, "shard_b", got.ShardName)

	history, err := env.svc.History(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, AuditStatusMigrated, history[0].Status)
	require.Equal(t, "shard_a", history[0].OldShard)
	require.Equal(t, "shard_b", history[0].NewShard)

	// The identity sequence on the target is past the migrated keys, so new
	// inserts cannot collide with moved rows.
	var newID int64
	err = env.shardB.QueryRow(ctx,
		`INSERT INTO links (website_id, slug, title) VALUES ($1, 'fresh', 'Fresh') RETURNING id`,
		site.ID).Scan(&newID)
	require.NoError(t, err)
	require.Greater(t, newID, int64(1200))
}

func TestMigrateAbortsOnPrimaryKeyConflict(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	site := env.createWebsite(t, "conflict-site", "shard_a")
	env.seedLinks(t, env.shardA, site.ID, 10)

	// Plant a row on the target with a primary key the source is about to move.
	var takenPK int64
	err := env.shardA.QueryRow(ctx,
		`SELECT id FROM links WHERE website_id = $1 ORDER BY id LIMIT 1`, site.ID).Scan(&takenPK)
	require.NoError(t, err)
	_, err = env.shardB.Exec(ctx,
		`INSERT INTO links (id, website_id, slug, title) VALUES ($1, 999, 'squatter', 'Squatter')`,
		takenPK)
	require.NoError(t, err)

	_, err = env.migrator.Migrate(ctx, site.ID, "shard_b", MigrateOptions{ChangedBy: "test"})
	var migrationErr *MigrationError
	require.ErrorAs(t, err, &migrationErr)
	require.Equal(t, "links", migrationErr.Table)
	require.Contains(t, migrationErr.Reason, "conflicting primary keys")

	// The source rows are untouched and the router still points at shard_a.
	require.EqualValues(t, 10, env.countLinks(t, env.shardA, site.ID))
	require.Zero(t, env.countLinks(t, env.shardB, site.ID))

	got, err := env.websites.Get(ctx, env.admin, site.ID)
	require.NoError(t, err)
	require.Equal(t, "shard_a", got.ShardName)

	history, err := env.svc.History(ctx, site.ID)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestMigrateDryRunReportsWithoutMoving(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	site := env.createWebsite(t, "dry-site", "shard_a")
	env.seedLinks(t, env.shardA, site.ID, 10)

	report, err := env.migrator.Migrate(ctx, site.ID, "shard_b", MigrateOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, report.DryRun)

	found := false
	for _, tbl := range report.Tables {
		if tbl.Table == "links" {
			found = true
			require.EqualValues(t, 10, tbl.Rows)
		}
	}
	require.True(t, found)

	require.EqualValues(t, 10, env.countLinks(t, env.shardA, site.ID))
	require.Zero(t, env.countLinks(t, env.shardB, site.ID))

	got, err := env.websites.Get(ctx, env.admin, site.ID)
	require.NoError(t, err)
	require.Equal(t, "shard_a", got.ShardName)
}

func TestMigratePreconditions(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	site := env.createWebsite(t, "precondition-site", "shard_a")

	var migrationErr *MigrationError

	_, err := env.migrator.Migrate(ctx, site.ID, "shard_a", MigrateOptions{})
	require.ErrorAs(t, err, &migrationErr)
	require.Contains(t, migrationErr.Reason, "already lives")

	_, err = env.migrator.Migrate(ctx, site.ID, "shard_z", MigrateOptions{})
	require.ErrorAs(t, err, &migrationErr)
	require.Contains(t, migrationErr.Reason, "not configured")

	_, err = env.migrator.Migrate(ctx, site.ID+1000, "shard_b", MigrateOptions{})
	require.ErrorAs(t, err, &migrationErr)
	require.Contains(t, migrationErr.Reason, "does not exist")
}

func TestAssignShardRepointsAndAudits(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	site := env.createWebsite(t, "assign-site", "shard_a")

	assignment, err := env.svc.AssignShard(ctx, site.ID, "shard_b", "test", nil)
	require.NoError(t, err)
	require.Equal(t, "shard_a", assignment.OldShard)
	require.Equal(t, "shard_b", assignment.NewShard)

	_, err = env.svc.AssignShard(ctx, site.ID, "shard_b", "test", nil)
	require.ErrorIs(t, err, ErrSameShard)

	history, err := env.svc.History(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, AuditStatusAssigned, history[0].Status)
}

func TestHealthCheckerReportsConnectableShards(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	healths := NewHealthChecker(env.shards, zap.NewNop()).CheckAll(context.Background())
	require.Len(t, healths, 2)
	for _, h := range healths {
		require.True(t, h.Connectable, "shard %s: %s", h.Shard, h.Error)
		require.Positive(t, h.SizeBytes)
	}
}

func TestDistributionIncludesEmptyShards(t *testing.T) {
	t.Parallel()

	env := newMigrationEnv(t)
	ctx := context.Background()
	env.createWebsite(t, "dist-one", "shard_a")
	env.createWebsite(t, "dist-two", "shard_a")

	loads, err := env.svc.Distribution(ctx)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	require.Equal(t, "shard_a", loads[0].Shard)
	require.EqualValues(t, 2, loads[0].Websites)
	require.InDelta(t, 100.0, loads[0].Percent, 0.01)
	require.Equal(t, "shard_b", loads[1].Shard)
	require.Zero(t, loads[1].Websites)
}
