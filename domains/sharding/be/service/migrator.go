package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// DefaultBatchSize bounds one fetch/insert/delete cycle. Batches keep any
// single statement short, which is the migrator's only timeout mechanism.
const DefaultBatchSize = 500

// MigrationError reports a precondition failure or a detected conflict. The
// migrator aborts before any destructive delete, so a raised MigrationError
// always means the source rows are intact.
type MigrationError struct {
	WebsiteID int64
	Table     string
	Reason    string
}

func (e *MigrationError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("migrate website %d: table %s: %s", e.WebsiteID, e.Table, e.Reason)
	}
	return fmt.Sprintf("migrate website %d: %s", e.WebsiteID, e.Reason)
}

// MigrateOptions tune one migration run.
type MigrateOptions struct {
	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int
	// DryRun validates preconditions and reports row counts without moving
	// or deleting anything.
	DryRun    bool
	ChangedBy string
	Notes     *string
}

// TableResult is the per-table outcome of a migration.
type TableResult struct {
	Table   string `json:"table"`
	Rows    int64  `json:"rows"`
	Batches int    `json:"batches"`
}

// MigrationReport summarises one run.
type MigrationReport struct {
	WebsiteID int64         `json:"website_id"`
	FromShard string        `json:"from_shard"`
	ToShard   string        `json:"to_shard"`
	DryRun    bool          `json:"dry_run"`
	Tables    []TableResult `json:"tables"`
}

// Migrator relocates every row belonging to one tenant from its current
// shard to a target shard. The websites row is held under FOR UPDATE for the
// whole run, so two migrations of the same tenant can never interleave; the
// routing metadata is rewritten only after the last table finishes, inside
// the same lock scope.
type Migrator struct {
	admin    *pgxpool.Pool
	shards   *persistence.ShardRegistry
	websites *persistence.WebsiteStore
	audit    *persistence.ShardAuditStore
	logger   *zap.Logger
}

// NewMigrator constructs a migrator over the admin pool and shard registry.
func NewMigrator(admin *pgxpool.Pool, shards *persistence.ShardRegistry, logger *zap.Logger) *Migrator {
	if admin == nil {
		panic("admin pool is required")
	}
	if shards == nil {
		panic("shard registry is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Migrator{
		admin:    admin,
		shards:   shards,
		websites: persistence.NewWebsiteStore(),
		audit:    persistence.NewShardAuditStore(),
		logger:   logger,
	}
}

// Migrate moves one tenant's rows to targetShard. Tenant-owned tables are
// discovered from the source schema, so new content tables are picked up
// without code changes. A crash mid-run leaves the router pointing at the
// source shard, which still holds whatever was not yet deleted; that state is
// safe to retry from.
func (m *Migrator) Migrate(ctx context.Context, websiteID int64, targetShard string, opts MigrateOptions) (MigrationReport, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var report MigrationReport
	err := persistence.WithTx(ctx, m.admin, func(tx pgx.Tx) error {
		site, err := m.websites.GetForUpdate(ctx, tx, websiteID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return &MigrationError{WebsiteID: websiteID, Reason: "website does not exist"}
			}
			return err
		}

		if !m.shards.IsConfigured(targetShard) {
			return &MigrationError{WebsiteID: websiteID,
				Reason: fmt.Sprintf("target shard %q is not configured", targetShard)}
		}
		if site.ShardName == targetShard {
			return &MigrationError{WebsiteID: websiteID,
				Reason: fmt.Sprintf("website already lives on shard %q", targetShard)}
		}

		source, err := m.shards.Pool(site.ShardName)
		if err != nil {
			return &MigrationError{WebsiteID: websiteID,
				Reason: fmt.Sprintf("current shard %q is not configured", site.ShardName)}
		}
		target, err := m.shards.Pool(targetShard)
		if err != nil {
			return err
		}

		tables, err := persistence.DiscoverTenantTables(ctx, source)
		if err != nil {
			return err
		}

		report = MigrationReport{
			WebsiteID: websiteID,
			FromShard: site.ShardName,
			ToShard:   targetShard,
			DryRun:    opts.DryRun,
		}

		if opts.DryRun {
			for _, tbl := range tables {
				count, err := countTenantRows(ctx, source, tbl, websiteID)
				if err != nil {
					return err
				}
				report.Tables = append(report.Tables, TableResult{Table: tbl.Name, Rows: count})
			}
			return nil
		}

		for _, tbl := range tables {
			result, err := m.migrateTable(ctx, source, target, tbl, websiteID, batchSize)
			if err != nil {
				return err
			}
			report.Tables = append(report.Tables, result)
		}

		if err := m.websites.UpdateShard(ctx, tx, websiteID, targetShard); err != nil {
			return err
		}
		_, err = m.audit.Append(ctx, tx, persistence.ShardAuditRecord{
			WebsiteID:    websiteID,
			OldShardName: site.ShardName,
			NewShardName: targetShard,
			ChangedBy:    opts.ChangedBy,
			Notes:        opts.Notes,
			Status:       AuditStatusMigrated,
		})
		return err
	})
	if err != nil {
		return MigrationReport{}, err
	}

	if !report.DryRun {
		m.logger.Info("tenant migrated",
			zap.Int64("website_id", report.WebsiteID),
			zap.String("from_shard", report.FromShard),
			zap.String("to_shard", report.ToShard),
			zap.Int("tables", len(report.Tables)))
	}
	return report, nil
}

// migrateTable runs the fetch/conflict-check/insert/delete loop for one
// table until a fetch comes back empty.
func (m *Migrator) migrateTable(ctx context.Context, source, target *pgxpool.Pool, tbl persistence.TenantTable, websiteID int64, batchSize int) (TableResult, error) {
	result := TableResult{Table: tbl.Name}

	for {
		batch, err := persistence.FetchTenantBatch(ctx, source, tbl, websiteID, batchSize)
		if err != nil {
			return result, err
		}
		if len(batch.Rows) == 0 {
			break
		}

		existing, err := persistence.ExistingPKs(ctx, target, tbl, batch.PKs)
		if err != nil {
			return result, err
		}
		if len(existing) > 0 {
			return result, &MigrationError{WebsiteID: websiteID, Table: tbl.Name,
				Reason: fmt.Sprintf("%d conflicting primary keys on target shard (first: %d)", len(existing), existing[0])}
		}

		if err := persistence.InsertTenantBatch(ctx, target, tbl, batch); err != nil {
			return result, err
		}
		deleted, err := persistence.DeleteTenantBatch(ctx, source, tbl, websiteID, batch.PKs)
		if err != nil {
			return result, err
		}

		result.Rows += deleted
		result.Batches++
	}

	if result.Rows > 0 {
		if err := persistence.SyncIdentitySequence(ctx, target, tbl); err != nil {
			return result, err
		}
	}
	return result, nil
}

func countTenantRows(ctx context.Context, db persistence.Querier, tbl persistence.TenantTable, websiteID int64) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`,
		pgx.Identifier{tbl.Name}.Sanitize(), pgx.Identifier{persistence.TenantColumn}.Sanitize())
	var count int64
	if err := db.QueryRow(ctx, query, websiteID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", tbl.Name, err)
	}
	return count, nil
}
