package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// Errors returned by the shard service.
var (
	// ErrNotFound means the website does not exist.
	ErrNotFound = errors.New("website not found")
	// ErrSameShard means the website already lives on the requested shard.
	ErrSameShard = errors.New("website already lives on that shard")
	// ErrShardUnhealthy means the target shard failed its health probe.
	ErrShardUnhealthy = errors.New("target shard is not connectable")
)

// Audit statuses recorded on shard_audit_log rows.
const (
	AuditStatusAssigned = "assigned"
	AuditStatusMigrated = "migrated"
)

// Assignment is the outcome of a routing change.
type Assignment struct {
	WebsiteID int64  `json:"website_id"`
	OldShard  string `json:"old_shard"`
	NewShard  string `json:"new_shard"`
}

// ShardLoad is one shard's slice of the tenant population.
type ShardLoad struct {
	Shard    string  `json:"shard"`
	Websites int64   `json:"websites"`
	Percent  float64 `json:"percent"`
}

// AuditEntry is one recorded shard reassignment.
type AuditEntry struct {
	ID        int64     `json:"id"`
	WebsiteID int64     `json:"website_id"`
	OldShard  string    `json:"old_shard"`
	NewShard  string    `json:"new_shard"`
	ChangedBy string    `json:"changed_by"`
	Notes     *string   `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Service owns shard routing decisions: assignment, distribution reporting
// and the audit trail. It moves metadata only; data relocation is the
// migrator's job, kept separate so "where the router points" and "where the
// rows are" stay independently testable.
type Service struct {
	admin    *pgxpool.Pool
	shards   *persistence.ShardRegistry
	health   *HealthChecker
	websites *persistence.WebsiteStore
	audit    *persistence.ShardAuditStore
	logger   *zap.Logger
}

// New constructs a Service with required dependencies.
func New(admin *pgxpool.Pool, shards *persistence.ShardRegistry, health *HealthChecker, logger *zap.Logger) *Service {
	if admin == nil {
		panic("admin pool is required")
	}
	if shards == nil {
		panic("shard registry is required")
	}
	if health == nil {
		panic("health checker is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{
		admin:    admin,
		shards:   shards,
		health:   health,
		websites: persistence.NewWebsiteStore(),
		audit:    persistence.NewShardAuditStore(),
		logger:   logger,
	}
}

// AssignShard repoints a website's routing metadata at newShard and records
// the change, both inside one transaction. The target must be configured,
// different from the current shard, and connectable.
func (s *Service) AssignShard(ctx context.Context, websiteID int64, newShard, changedBy string, notes *string) (Assignment, error) {
	if !s.shards.IsConfigured(newShard) {
		return Assignment{}, &persistence.ShardNotConfiguredError{Shard: newShard}
	}
	if probe := s.health.Check(ctx, newShard); !probe.Connectable {
		return Assignment{}, fmt.Errorf("%w: %s", ErrShardUnhealthy, probe.Error)
	}

	var assignment Assignment
	err := persistence.WithTx(ctx, s.admin, func(tx pgx.Tx) error {
		site, err := s.websites.GetForUpdate(ctx, tx, websiteID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if site.ShardName == newShard {
			return ErrSameShard
		}

		if err := s.websites.UpdateShard(ctx, tx, websiteID, newShard); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, persistence.ShardAuditRecord{
			WebsiteID:    websiteID,
			OldShardName: site.ShardName,
			NewShardName: newShard,
			ChangedBy:    changedBy,
			Notes:        notes,
			Status:       AuditStatusAssigned,
		}); err != nil {
			return err
		}

		assignment = Assignment{WebsiteID: websiteID, OldShard: site.ShardName, NewShard: newShard}
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	s.logger.Info("shard reassigned",
		zap.Int64("website_id", assignment.WebsiteID),
		zap.String("old_shard", assignment.OldShard),
		zap.String("new_shard", assignment.NewShard),
		zap.String("changed_by", changedBy))
	return assignment, nil
}

// Distribution reports tenant counts and percentages per shard. Configured
// shards with no tenants appear with zero so imbalances are visible.
func (s *Service) Distribution(ctx context.Context) ([]ShardLoad, error) {
	counts, err := s.websites.ShardCounts(ctx, s.admin)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	names := s.shards.Names()
	for name := range counts {
		if !s.shards.IsConfigured(name) {
			// Tenants routed at a shard this process does not know; still
			// reported so the imbalance is not hidden.
			names = append(names, name)
		}
	}
	sort.Strings(names)

	loads := make([]ShardLoad, 0, len(names))
	for _, name := range names {
		load := ShardLoad{Shard: name, Websites: counts[name]}
		if total > 0 {
			load.Percent = float64(load.Websites) * 100 / float64(total)
		}
		loads = append(loads, load)
	}
	return loads, nil
}

// History returns the reassignment trail for one website, oldest first.
func (s *Service) History(ctx context.Context, websiteID int64) ([]AuditEntry, error) {
	records, err := s.audit.ListByWebsite(ctx, s.admin, websiteID)
	if err != nil {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, AuditEntry{
			ID:        rec.ID,
			WebsiteID: rec.WebsiteID,
			OldShard:  rec.OldShardName,
			NewShard:  rec.NewShardName,
			ChangedBy: rec.ChangedBy,
			Notes:     rec.Notes,
			Status:    rec.Status,
			CreatedAt: rec.CreatedAt,
		})
	}
	return entries, nil
}
