package persistence

import (
	"context"
	"fmt"
	"time"
)

// ShardAuditTable records every shard reassignment; rows are append-only.
const ShardAuditTable = "shard_audit_log"

// ShardAuditRecord is one immutable reassignment entry.
type ShardAuditRecord struct {
	ID           int64
	WebsiteID    int64
	OldShardName string
	NewShardName string
	ChangedBy    string
	Notes        *string
	Status       string
	CreatedAt    time.Time
}

// ShardAuditStore appends and reads the shard reassignment trail.
type ShardAuditStore struct{}

// NewShardAuditStore constructs a store.
func NewShardAuditStore() *ShardAuditStore {
	return &ShardAuditStore{}
}

// Append inserts one audit row; entries are never updated.
func (s *ShardAuditStore) Append(ctx context.Context, db Querier, rec ShardAuditRecord) (ShardAuditRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (website_id, old_shard_name, new_shard_name, changed_by, notes, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, website_id, old_shard_name, new_shard_name, changed_by, notes, status, created_at`,
		ShardAuditTable)

	var out ShardAuditRecord
	err := db.QueryRow(ctx, query,
		rec.WebsiteID, rec.OldShardName, rec.NewShardName, rec.ChangedBy, rec.Notes, rec.Status).
		Scan(&out.ID, &out.WebsiteID, &out.OldShardName, &out.NewShardName, &out.ChangedBy, &out.Notes, &out.Status, &out.CreatedAt)
	if err != nil {
		return ShardAuditRecord{}, err
	}
	return out, nil
}

// ListByWebsite returns the reassignment history for one tenant, oldest first.
func (s *ShardAuditStore) ListByWebsite(ctx context.Context, db Querier, websiteID int64) ([]ShardAuditRecord, error) {
	query := fmt.Sprintf(`
        SELECT id, website_id, old_shard_name, new_shard_name, changed_by, notes, status, created_at
        FROM %s WHERE website_id = $1 ORDER BY id`, ShardAuditTable)

	rows, err := db.Query(ctx, query, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ShardAuditRecord
	for rows.Next() {
		var rec ShardAuditRecord
		if err := rows.Scan(&rec.ID, &rec.WebsiteID, &rec.OldShardName, &rec.NewShardName, &rec.ChangedBy, &rec.Notes, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
