package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// PostgresRepository implements the pool repository on the control-plane
// database using the shared persistence stores.
type PostgresRepository struct {
	pool       *pgxpool.Pool
	subdomains *persistence.SubdomainStore
	websites   *persistence.WebsiteStore
}

// NewPostgresRepository constructs a repository backed by the admin pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("admin pool is required")
	}
	return &PostgresRepository{
		pool:       pool,
		subdomains: persistence.NewSubdomainStore(),
		websites:   persistence.NewWebsiteStore(),
	}
}

func (r *PostgresRepository) Claim(ctx context.Context, email string, expiresAt time.Time) (service.Subdomain, bool, error) {
	rec, err := r.subdomains.ClaimAvailable(ctx, r.pool, email, expiresAt)
	if err != nil {
		if errors.Is(err, persistence.ErrNoAvailableSubdomain) {
			return service.Subdomain{}, false, nil
		}
		return service.Subdomain{}, false, err
	}
	return toServiceSubdomain(rec), true, nil
}

func (r *PostgresRepository) ActiveReservation(ctx context.Context, email string, now time.Time) (service.Subdomain, bool, error) {
	rec, err := r.subdomains.ActiveReservation(ctx, r.pool, email, now)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Subdomain{}, false, nil
		}
		return service.Subdomain{}, false, err
	}
	return toServiceSubdomain(rec), true, nil
}

func (r *PostgresRepository) InsertReserved(ctx context.Context, name, email string, expiresAt time.Time) (service.Subdomain, error) {
	rec, err := r.subdomains.InsertReserved(ctx, r.pool, name, email, expiresAt)
	if err != nil {
		return service.Subdomain{}, err
	}
	return toServiceSubdomain(rec), nil
}

func (r *PostgresRepository) InsertAvailable(ctx context.Context, names []string) (int64, error) {
	return r.subdomains.InsertAvailable(ctx, r.pool, names)
}

func (r *PostgresRepository) Get(ctx context.Context, name string) (service.Subdomain, bool, error) {
	rec, err := r.subdomains.GetByName(ctx, r.pool, name)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Subdomain{}, false, nil
		}
		return service.Subdomain{}, false, err
	}
	return toServiceSubdomain(rec), true, nil
}

func (r *PostgresRepository) Allocate(ctx context.Context, name string, websiteID int64) (service.Subdomain, error) {
	rec, err := r.subdomains.Allocate(ctx, r.pool, name, websiteID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Subdomain{}, service.ErrNotFound
		}
		return service.Subdomain{}, err
	}
	return toServiceSubdomain(rec), nil
}

func (r *PostgresRepository) NameTaken(ctx context.Context, name string) (bool, error) {
	return r.subdomains.NameTaken(ctx, r.pool, name)
}

func (r *PostgresRepository) WebsiteSubdomainExists(ctx context.Context, name string) (bool, error) {
	_, err := r.websites.GetBySubdomain(ctx, r.pool, name)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check website subdomain: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) Counts(ctx context.Context) (int64, int64, error) {
	return r.subdomains.Counts(ctx, r.pool)
}

func (r *PostgresRepository) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.subdomains.ReclaimExpired(ctx, r.pool, now)
}

func toServiceSubdomain(rec persistence.SubdomainRecord) service.Subdomain {
	return service.Subdomain{
		ID:                   rec.ID,
		Name:                 rec.Name,
		State:                rec.State,
		ReservedByEmail:      rec.ReservedByEmail,
		ReservationExpiresAt: rec.ReservationExpiresAt,
		WebsiteID:            rec.WebsiteID,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
