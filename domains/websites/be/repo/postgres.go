package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

const uniqueViolationCode = "23505"

// PostgresRepository implements the websites repository on the control-plane
// database.
type PostgresRepository struct {
	pool       *pgxpool.Pool
	websites   *persistence.WebsiteStore
	users      *persistence.UserStore
	subdomains *persistence.SubdomainStore
}

// NewPostgresRepository constructs a repository backed by the admin pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("admin pool is required")
	}
	return &PostgresRepository{
		pool:       pool,
		websites:   persistence.NewWebsiteStore(),
		users:      persistence.NewUserStore(),
		subdomains: persistence.NewSubdomainStore(),
	}
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (service.User, bool, error) {
	rec, err := r.users.GetUserByEmail(ctx, r.pool, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.User{}, false, nil
		}
		return service.User{}, false, err
	}
	return toServiceUser(rec), true, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, email string) (service.User, error) {
	rec, err := r.users.CreateUser(ctx, r.pool, persistence.UserRecord{ID: uuid.New(), Email: email})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// Lost a race against a concurrent signup for the same email.
			existing, lookupErr := r.users.GetUserByEmail(ctx, r.pool, email)
			if lookupErr != nil {
				return service.User{}, fmt.Errorf("create user: %w", err)
			}
			return toServiceUser(existing), nil
		}
		return service.User{}, fmt.Errorf("create user: %w", err)
	}
	return toServiceUser(rec), nil
}

func (r *PostgresRepository) OwnedWebsiteID(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	return r.users.OwnedWebsiteID(ctx, r.pool, userID)
}

// ConfigureInTx runs fn inside one control-plane transaction. The tx view
// shares the stores but routes every statement through the pgx transaction.
func (r *PostgresRepository) ConfigureInTx(ctx context.Context, fn func(tx service.ConfigureTx) error) error {
	return persistence.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&configureTx{repo: r, tx: tx})
	})
}

type configureTx struct {
	repo *PostgresRepository
	tx   pgx.Tx
}

func (t *configureTx) CreateWebsite(ctx context.Context, site service.Website) (service.Website, error) {
	rec, err := t.repo.websites.Create(ctx, t.tx, persistence.WebsiteRecord{
		Subdomain:         site.Subdomain,
		ShardName:         site.ShardName,
		SiteType:          site.SiteType,
		ProvisioningState: string(site.State),
		SeedPackName:      site.SeedPackName,
		OwnerEmail:        site.OwnerEmail,
	})
	if err != nil {
		return service.Website{}, err
	}
	return toServiceWebsite(rec), nil
}

func (t *configureTx) AllocateSubdomain(ctx context.Context, name string, websiteID int64) error {
	_, err := t.repo.subdomains.Allocate(ctx, t.tx, name, websiteID)
	return err
}

func (t *configureTx) CreateOwnerMembership(ctx context.Context, websiteID int64, userID uuid.UUID) error {
	_, err := t.repo.users.CreateMembership(ctx, t.tx, websiteID, userID, persistence.RoleOwner)
	return err
}

func (t *configureTx) TransitionState(ctx context.Context, id int64, from, to service.State) (bool, error) {
	return t.repo.websites.TransitionState(ctx, t.tx, id, string(from), string(to))
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (service.Website, error) {
	rec, err := r.websites.Get(ctx, r.pool, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Website{}, service.ErrNotFound
		}
		return service.Website{}, err
	}
	return toServiceWebsite(rec), nil
}

func (r *PostgresRepository) GetByVerificationToken(ctx context.Context, token string) (service.Website, error) {
	rec, err := r.websites.GetByVerificationToken(ctx, r.pool, token)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Website{}, service.ErrNotFound
		}
		return service.Website{}, err
	}
	return toServiceWebsite(rec), nil
}

func (r *PostgresRepository) TransitionState(ctx context.Context, id int64, from, to service.State) (bool, error) {
	return r.websites.TransitionState(ctx, r.pool, id, string(from), string(to))
}

func (r *PostgresRepository) SetState(ctx context.Context, id int64, state service.State) error {
	return r.websites.SetState(ctx, r.pool, id, string(state))
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.websites.MarkFailed(ctx, r.pool, id, string(service.StateFailed), reason)
}

func (r *PostgresRepository) SetVerificationToken(ctx context.Context, id int64, token string) error {
	return r.websites.SetVerificationToken(ctx, r.pool, id, token)
}

func toServiceUser(rec persistence.UserRecord) service.User {
	return service.User{ID: rec.ID, Email: rec.Email, FullName: rec.FullName}
}

func toServiceWebsite(rec persistence.WebsiteRecord) service.Website {
	return service.Website{
		ID:           rec.ID,
		Subdomain:    rec.Subdomain,
		ShardName:    rec.ShardName,
		SiteType:     rec.SiteType,
		State:        service.State(rec.ProvisioningState),
		StateError:   rec.ProvisioningError,
		SeedPackName: rec.SeedPackName,
		OwnerEmail:   rec.OwnerEmail,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
