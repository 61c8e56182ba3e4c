package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// ChecklistReader assembles the provisioning checklist from the databases
// that actually hold the facts: subdomain and membership rows on the control
// plane, content rows on the website's shard.
type ChecklistReader struct {
	admin      *pgxpool.Pool
	shards     *persistence.ShardRegistry
	subdomains *persistence.SubdomainStore
	users      *persistence.UserStore
}

// NewChecklistReader constructs a reader over the admin pool and the shard
// registry.
func NewChecklistReader(admin *pgxpool.Pool, shards *persistence.ShardRegistry) *ChecklistReader {
	if admin == nil {
		panic("admin pool is required")
	}
	if shards == nil {
		panic("shard registry is required")
	}
	return &ChecklistReader{
		admin:      admin,
		shards:     shards,
		subdomains: persistence.NewSubdomainStore(),
		users:      persistence.NewUserStore(),
	}
}

// Checklist re-reads every provisioning fact for the site.
func (r *ChecklistReader) Checklist(ctx context.Context, site service.Website) (service.Checklist, error) {
	var c service.Checklist

	entry, err := r.subdomains.GetByName(ctx, r.admin, site.Subdomain)
	switch {
	case err == nil:
		c.HasSubdomain = entry.State == persistence.SubdomainAllocated &&
			entry.WebsiteID != nil && *entry.WebsiteID == site.ID
	case errors.Is(err, persistence.ErrNotFound):
		// No pool entry at all; the subdomain was never allocated.
	default:
		return service.Checklist{}, fmt.Errorf("read subdomain entry: %w", err)
	}

	c.HasOwner, err = r.users.HasOwnerMembership(ctx, r.admin, site.ID)
	if err != nil {
		return service.Checklist{}, fmt.Errorf("read owner membership: %w", err)
	}

	shard, err := r.shards.Pool(site.ShardName)
	if err != nil {
		return service.Checklist{}, err
	}

	agencies, err := countTenantRows(ctx, shard, "agencies", site.ID)
	if err != nil {
		return service.Checklist{}, err
	}
	c.HasAgency = agencies > 0

	if c.LinkCount, err = countTenantRows(ctx, shard, "links", site.ID); err != nil {
		return service.Checklist{}, err
	}
	if c.FieldKeyCount, err = countTenantRows(ctx, shard, "field_keys", site.ID); err != nil {
		return service.Checklist{}, err
	}
	if c.PropertyCount, err = countTenantRows(ctx, shard, "properties", site.ID); err != nil {
		return service.Checklist{}, err
	}

	return c, nil
}

func countTenantRows(ctx context.Context, db persistence.Querier, table string, websiteID int64) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE website_id = $1`, table)
	var count int
	if err := db.QueryRow(ctx, query, websiteID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table, err)
	}
	return count, nil
}

// Ensure interface compliance.
var _ service.ChecklistSource = (*ChecklistReader)(nil)
