package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantColumn is the foreign-key column that marks a table as tenant-owned.
const TenantColumn = "website_id"

// infraTablePrefixes are framework/infrastructure tables the migrator must
// never touch even if they grow a website_id column.
var infraTablePrefixes = []string{
	"schema_migrations",
	"ar_internal_metadata",
	"active_storage_",
	"pg_",
	"sql_",
}

// TenantTable describes one shard-resident table the migrator can move.
type TenantTable struct {
	Name     string
	PKColumn string
}

// TenantBatch is one fetched slice of tenant rows from a source shard.
type TenantBatch struct {
	Columns []string
	Rows    [][]any
	PKs     []int64
}

// DiscoverTenantTables lists every public table on the shard that carries the
// tenant foreign-key column, with its single-column bigint primary key. Schema
// growth is picked up automatically; infra tables are filtered by prefix.
func DiscoverTenantTables(ctx context.Context, db Querier) ([]TenantTable, error) {
	query := `
        SELECT c.table_name, kcu.column_name
        FROM information_schema.columns c
        JOIN information_schema.table_constraints tc
            ON tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND tc.constraint_type = 'PRIMARY KEY'
        JOIN information_schema.key_column_usage kcu
            ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
        WHERE c.table_schema = 'public' AND c.column_name = $1
        ORDER BY c.table_name`

	rows, err := db.Query(ctx, query, TenantColumn)
	if err != nil {
		return nil, fmt.Errorf("discover tenant tables: %w", err)
	}
	defer rows.Close()

	var tables []TenantTable
	for rows.Next() {
		var tbl TenantTable
		if err := rows.Scan(&tbl.Name, &tbl.PKColumn); err != nil {
			return nil, err
		}
		if isInfraTable(tbl.Name) {
			continue
		}
		tables = append(tables, tbl)
	}
	return tables, rows.Err()
}

func isInfraTable(name string) bool {
	for _, prefix := range infraTablePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// FetchTenantBatch reads up to limit rows for one tenant from a table, ordered
// by ascending primary key so repeated calls after deletes make deterministic
// progress.
func FetchTenantBatch(ctx context.Context, db Querier, tbl TenantTable, websiteID int64, limit int) (TenantBatch, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1 ORDER BY %s ASC LIMIT $2`,
		pgx.Identifier{tbl.Name}.Sanitize(), pgx.Identifier{TenantColumn}.Sanitize(), pgx.Identifier{tbl.PKColumn}.Sanitize())

	rows, err := db.Query(ctx, query, websiteID, limit)
	if err != nil {
		return TenantBatch{}, fmt.Errorf("fetch batch from %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	pkIndex := -1
	for i, desc := range descs {
		columns[i] = desc.Name
		if desc.Name == tbl.PKColumn {
			pkIndex = i
		}
	}
	if pkIndex < 0 {
		return TenantBatch{}, fmt.Errorf("table %s has no %s column in result set", tbl.Name, tbl.PKColumn)
	}

	batch := TenantBatch{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return TenantBatch{}, err
		}
		pk, ok := values[pkIndex].(int64)
		if !ok {
			return TenantBatch{}, fmt.Errorf("table %s primary key %s is not bigint", tbl.Name, tbl.PKColumn)
		}
		batch.Rows = append(batch.Rows, values)
		batch.PKs = append(batch.PKs, pk)
	}
	return batch, rows.Err()
}

// ExistingPKs returns which of the given primary keys already exist in the
// table; the migrator aborts when any do, rather than overwrite.
func ExistingPKs(ctx context.Context, db Querier, tbl TenantTable, pks []int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1)`,
		pgx.Identifier{tbl.PKColumn}.Sanitize(), pgx.Identifier{tbl.Name}.Sanitize(), pgx.Identifier{tbl.PKColumn}.Sanitize())

	rows, err := db.Query(ctx, query, pks)
	if err != nil {
		return nil, fmt.Errorf("check conflicts in %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	var existing []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		existing = append(existing, pk)
	}
	return existing, rows.Err()
}

// InsertTenantBatch bulk-loads a fetched batch into the target shard,
// preserving primary keys.
func InsertTenantBatch(ctx context.Context, pool *pgxpool.Pool, tbl TenantTable, batch TenantBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}
	_, err := pool.CopyFrom(ctx, pgx.Identifier{tbl.Name}, batch.Columns, pgx.CopyFromRows(batch.Rows))
	if err != nil {
		return fmt.Errorf("copy batch into %s: %w", tbl.Name, err)
	}
	return nil
}

// DeleteTenantBatch removes the moved rows from the source shard by primary
// key, scoped to the tenant as a belt-and-braces predicate.
func DeleteTenantBatch(ctx context.Context, db Querier, tbl TenantTable, websiteID int64, pks []int64) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = ANY($2)`,
		pgx.Identifier{tbl.Name}.Sanitize(), pgx.Identifier{TenantColumn}.Sanitize(), pgx.Identifier{tbl.PKColumn}.Sanitize())

	tag, err := db.Exec(ctx, query, websiteID, pks)
	if err != nil {
		return 0, fmt.Errorf("delete batch from %s: %w", tbl.Name, err)
	}
	return tag.RowsAffected(), nil
}

// SyncIdentitySequence advances the table's identity sequence past the highest
// present key so future inserts on the target shard cannot collide with
// migrated rows.
func SyncIdentitySequence(ctx context.Context, db Querier, tbl TenantTable) error {
	query := fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%s', '%s'), GREATEST(COALESCE(MAX(%s), 0), 1)) FROM %s`,
		tbl.Name, tbl.PKColumn, pgx.Identifier{tbl.PKColumn}.Sanitize(), pgx.Identifier{tbl.Name}.Sanitize())
	var unused int64
	if err := db.QueryRow(ctx, query).Scan(&unused); err != nil {
		return fmt.Errorf("sync identity sequence for %s: %w", tbl.Name, err)
	}
	return nil
}
