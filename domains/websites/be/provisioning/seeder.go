package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// ErrUnknownSeedPack means the website references a pack this build does not
// ship.
var ErrUnknownSeedPack = errors.New("unknown seed pack")

// PackSeeder applies seed-pack content to the website's shard. Every insert
// lands on a per-website unique constraint with ON CONFLICT DO NOTHING, so a
// step can run any number of times without duplicating content.
type PackSeeder struct {
	shards *persistence.ShardRegistry
	logger *zap.Logger
}

// NewPackSeeder constructs a seeder over the shard registry.
func NewPackSeeder(shards *persistence.ShardRegistry, logger *zap.Logger) *PackSeeder {
	if shards == nil {
		panic("shard registry is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &PackSeeder{shards: shards, logger: logger}
}

// Seed writes the content for one provisioning step.
func (p *PackSeeder) Seed(ctx context.Context, step service.SeedStep, site service.Website) error {
	pack, ok := seedPacks[site.SeedPackName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSeedPack, site.SeedPackName)
	}

	shard, err := p.shards.Pool(site.ShardName)
	if err != nil {
		return err
	}

	switch step {
	case service.StepAgency:
		err = p.seedAgency(ctx, shard, site)
	case service.StepLinks:
		err = p.seedLinks(ctx, shard, site, pack)
	case service.StepFieldKeys:
		err = p.seedFieldKeys(ctx, shard, site, pack)
	case service.StepProperties:
		err = p.seedProperties(ctx, shard, site, pack)
	default:
		return fmt.Errorf("unknown seed step %q", step)
	}
	if err != nil {
		return err
	}

	p.logger.Debug("seeded step",
		zap.Int64("website_id", site.ID),
		zap.String("step", string(step)),
		zap.String("pack", pack.Name))
	return nil
}

func (p *PackSeeder) seedAgency(ctx context.Context, db persistence.Querier, site service.Website) error {
	_, err := db.Exec(ctx, `
        INSERT INTO agencies (website_id, display_name, email)
        VALUES ($1, $2, $3)
        ON CONFLICT (website_id) DO NOTHING`,
		site.ID, agencyDisplayName(site.Subdomain), site.OwnerEmail)
	if err != nil {
		return fmt.Errorf("seed agency: %w", err)
	}
	return nil
}

func (p *PackSeeder) seedLinks(ctx context.Context, db persistence.Querier, site service.Website, pack SeedPack) error {
	for _, link := range pack.Links {
		_, err := db.Exec(ctx, `
            INSERT INTO links (website_id, slug, title, placement, sort_order)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (website_id, slug) DO NOTHING`,
			site.ID, link.Slug, link.Title, link.Placement, link.SortOrder)
		if err != nil {
			return fmt.Errorf("seed link %q: %w", link.Slug, err)
		}
	}
	return nil
}

func (p *PackSeeder) seedFieldKeys(ctx context.Context, db persistence.Querier, site service.Website, pack SeedPack) error {
	for _, key := range pack.FieldKeys {
		_, err := db.Exec(ctx, `
            INSERT INTO field_keys (website_id, global_key, tag)
            VALUES ($1, $2, $3)
            ON CONFLICT (website_id, global_key) DO NOTHING`,
			site.ID, key.GlobalKey, key.Tag)
		if err != nil {
			return fmt.Errorf("seed field key %q: %w", key.GlobalKey, err)
		}
	}
	return nil
}

func (p *PackSeeder) seedProperties(ctx context.Context, db persistence.Querier, site service.Website, pack SeedPack) error {
	properties := pack.Properties
	// A single-property site gets exactly one listing to build around.
	if site.SiteType == service.SiteTypeSingleProperty && len(properties) > 1 {
		properties = properties[:1]
	}
	for _, prop := range properties {
		_, err := db.Exec(ctx, `
            INSERT INTO properties (website_id, reference, title, price_sale_cents, price_rental_cents, for_sale, for_rent)
            VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7)
            ON CONFLICT (website_id, reference) DO NOTHING`,
			site.ID, prop.Reference, prop.Title, prop.PriceSaleCents, prop.PriceRentalCents, prop.ForSale, prop.ForRent)
		if err != nil {
			return fmt.Errorf("seed property %q: %w", prop.Reference, err)
		}
	}
	return nil
}

// agencyDisplayName derives a presentable default from the subdomain, e.g.
// "sunny-harbor-42" becomes "Sunny Harbor 42".
func agencyDisplayName(subdomain string) string {
	words := strings.Split(subdomain, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// Ensure interface compliance.
var _ service.SeedProvider = (*PackSeeder)(nil)
