package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UsersTable holds signup leads and site owners on the control-plane database.
const UsersTable = "users"

// MembershipsTable links users to the websites they belong to. Memberships sit
// beside users rather than on shards because they reference uuid user rows that
// never migrate.
const MembershipsTable = "memberships"

// Membership roles.
const (
	RoleOwner = "owner"
)

// UserRecord is one account row.
type UserRecord struct {
	ID        uuid.UUID
	Email     string
	FullName  *string
	CreatedAt time.Time
}

// MembershipRecord ties a user to a website with a role.
type MembershipRecord struct {
	ID        int64
	WebsiteID int64
	UserID    uuid.UUID
	Role      string
	CreatedAt time.Time
}

// UserStore provides access to users and their website memberships.
type UserStore struct{}

// NewUserStore constructs a store.
func NewUserStore() *UserStore {
	return &UserStore{}
}

// CreateUser inserts a new user row.
func (s *UserStore) CreateUser(ctx context.Context, db Querier, rec UserRecord) (UserRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (id, email, full_name)
        VALUES ($1, $2, $3)
        RETURNING id, email, full_name, created_at`, UsersTable)
	return scanUserRecord(db.QueryRow(ctx, query, rec.ID, rec.Email, rec.FullName))
}

// GetUserByEmail fetches a user by unique email.
func (s *UserStore) GetUserByEmail(ctx context.Context, db Querier, email string) (UserRecord, error) {
	query := fmt.Sprintf(`SELECT id, email, full_name, created_at FROM %s WHERE email = $1`, UsersTable)
	return scanUserRecord(db.QueryRow(ctx, query, email))
}

// GetUser fetches a user by id.
func (s *UserStore) GetUser(ctx context.Context, db Querier, id uuid.UUID) (UserRecord, error) {
	query := fmt.Sprintf(`SELECT id, email, full_name, created_at FROM %s WHERE id = $1`, UsersTable)
	return scanUserRecord(db.QueryRow(ctx, query, id))
}

// CreateMembership inserts a website membership.
func (s *UserStore) CreateMembership(ctx context.Context, db Querier, websiteID int64, userID uuid.UUID, role string) (MembershipRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (website_id, user_id, role)
        VALUES ($1, $2, $3)
        RETURNING id, website_id, user_id, role, created_at`, MembershipsTable)

	var rec MembershipRecord
	err := db.QueryRow(ctx, query, websiteID, userID, role).
		Scan(&rec.ID, &rec.WebsiteID, &rec.UserID, &rec.Role, &rec.CreatedAt)
	if err != nil {
		return MembershipRecord{}, err
	}
	return rec, nil
}

// HasOwnerMembership reports whether the website has an owner member.
func (s *UserStore) HasOwnerMembership(ctx context.Context, db Querier, websiteID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE website_id = $1 AND role = $2)`, MembershipsTable)
	var exists bool
	if err := db.QueryRow(ctx, query, websiteID, RoleOwner).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// OwnedWebsiteID returns the id of the website the user owns, if any.
func (s *UserStore) OwnedWebsiteID(ctx context.Context, db Querier, userID uuid.UUID) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT website_id FROM %s WHERE user_id = $1 AND role = $2 LIMIT 1`, MembershipsTable)
	var websiteID int64
	err := db.QueryRow(ctx, query, userID, RoleOwner).Scan(&websiteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return websiteID, true, nil
}

func scanUserRecord(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	if err := row.Scan(&rec.ID, &rec.Email, &rec.FullName, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrNotFound
		}
		return UserRecord{}, err
	}
	return rec, nil
}
