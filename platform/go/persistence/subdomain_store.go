package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SubdomainsTable is the pool backing table on the control-plane database.
const SubdomainsTable = "subdomains"

// Subdomain pool entry states.
const (
	SubdomainAvailable = "available"
	SubdomainReserved  = "reserved"
	SubdomainAllocated = "allocated"
)

// SubdomainRecord is one pool row.
type SubdomainRecord struct {
	ID                   int64
	Name                 string
	State                string
	ReservedByEmail      *string
	ReservationExpiresAt *time.Time
	WebsiteID            *int64
	CreatedAt            time.Time
}

// ErrNoAvailableSubdomain is returned by ClaimAvailable when no row could be
// claimed; callers distinguish an empty pool from an exhausted one via Counts.
var ErrNoAvailableSubdomain = errors.New("no available subdomain to claim")

// SubdomainStore provides access to the subdomain pool table. Methods accept a
// Querier so reservation and allocation can join caller-owned transactions.
type SubdomainStore struct{}

// NewSubdomainStore constructs a store.
func NewSubdomainStore() *SubdomainStore {
	return &SubdomainStore{}
}

const subdomainColumns = "id, name, state, reserved_by_email, reservation_expires_at, website_id, created_at"

// ClaimAvailable atomically marks one available entry as reserved for email.
// SKIP LOCKED keeps concurrent signups from blocking on (or double-claiming)
// the same row.
func (s *SubdomainStore) ClaimAvailable(ctx context.Context, db Querier, email string, expiresAt time.Time) (SubdomainRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %[1]s SET state = $1, reserved_by_email = $2, reservation_expires_at = $3
        WHERE id = (
            SELECT id FROM %[1]s
            WHERE state = $4
            ORDER BY id
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING %[2]s`, SubdomainsTable, subdomainColumns)

	rec, err := scanSubdomainRecord(db.QueryRow(ctx, query, SubdomainReserved, email, expiresAt, SubdomainAvailable))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SubdomainRecord{}, ErrNoAvailableSubdomain
		}
		return SubdomainRecord{}, err
	}
	return rec, nil
}

// InsertReserved inserts a freshly generated name directly in reserved state.
// Used when the pool table has no rows to claim.
func (s *SubdomainStore) InsertReserved(ctx context.Context, db Querier, name, email string, expiresAt time.Time) (SubdomainRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (name, state, reserved_by_email, reservation_expires_at)
        VALUES ($1, $2, $3, $4)
        RETURNING %s`, SubdomainsTable, subdomainColumns)
	return scanSubdomainRecord(db.QueryRow(ctx, query, name, SubdomainReserved, email, expiresAt))
}

// InsertAvailable bulk-inserts generated names as available entries, skipping
// names that raced into existence since generation.
func (s *SubdomainStore) InsertAvailable(ctx context.Context, db Querier, names []string) (int64, error) {
	var inserted int64
	query := fmt.Sprintf(`INSERT INTO %s (name, state) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, SubdomainsTable)
	for _, name := range names {
		tag, err := db.Exec(ctx, query, name, SubdomainAvailable)
		if err != nil {
			return inserted, fmt.Errorf("insert available subdomain %q: %w", name, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// GetByName fetches a pool entry by its unique name.
func (s *SubdomainStore) GetByName(ctx context.Context, db Querier, name string) (SubdomainRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = $1`, subdomainColumns, SubdomainsTable)
	return scanSubdomainRecord(db.QueryRow(ctx, query, name))
}

// ActiveReservation returns the unexpired reservation held by email, if any.
func (s *SubdomainStore) ActiveReservation(ctx context.Context, db Querier, email string, now time.Time) (SubdomainRecord, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE state = $1 AND reserved_by_email = $2 AND reservation_expires_at > $3
        ORDER BY reservation_expires_at DESC
        LIMIT 1`, subdomainColumns, SubdomainsTable)
	return scanSubdomainRecord(db.QueryRow(ctx, query, SubdomainReserved, email, now))
}

// Allocate binds a name to a website and marks it allocated. A reserved or
// available pool entry transitions in place; a validated custom name that was
// never pooled is inserted directly as allocated. Allocated entries are
// terminal, so allocating one again fails.
func (s *SubdomainStore) Allocate(ctx context.Context, db Querier, name string, websiteID int64) (SubdomainRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %[1]s (name, state, website_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (name) DO UPDATE
            SET state = EXCLUDED.state, website_id = EXCLUDED.website_id,
                reserved_by_email = NULL, reservation_expires_at = NULL
            WHERE %[1]s.state IN ($4, $5)
        RETURNING %[2]s`, SubdomainsTable, subdomainColumns)

	rec, err := scanSubdomainRecord(db.QueryRow(ctx, query, name, SubdomainAllocated, websiteID, SubdomainReserved, SubdomainAvailable))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Only an already-allocated row can dodge the upsert.
			current, getErr := s.GetByName(ctx, db, name)
			if getErr != nil {
				return SubdomainRecord{}, getErr
			}
			return SubdomainRecord{}, fmt.Errorf("subdomain %q is %s and cannot be allocated", name, current.State)
		}
		return SubdomainRecord{}, err
	}
	return rec, nil
}

// Counts reports total rows and available rows, used to tell an empty pool
// apart from an exhausted one.
func (s *SubdomainStore) Counts(ctx context.Context, db Querier) (total, available int64, err error) {
	query := fmt.Sprintf(`SELECT COUNT(*), COUNT(*) FILTER (WHERE state = $1) FROM %s`, SubdomainsTable)
	if err := db.QueryRow(ctx, query, SubdomainAvailable).Scan(&total, &available); err != nil {
		return 0, 0, err
	}
	return total, available, nil
}

// ReclaimExpired returns expired reservations to the available state.
func (s *SubdomainStore) ReclaimExpired(ctx context.Context, db Querier, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET state = $1, reserved_by_email = NULL, reservation_expires_at = NULL
        WHERE state = $2 AND reservation_expires_at <= $3`, SubdomainsTable)
	tag, err := db.Exec(ctx, query, SubdomainAvailable, SubdomainReserved, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NameTaken reports whether a name exists in the pool or is already bound to
// a website as its live subdomain.
func (s *SubdomainStore) NameTaken(ctx context.Context, db Querier, name string) (bool, error) {
	query := fmt.Sprintf(`
        SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)
            OR EXISTS (SELECT 1 FROM %s WHERE subdomain = $1)`, SubdomainsTable, WebsitesTable)
	var taken bool
	if err := db.QueryRow(ctx, query, name).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

func scanSubdomainRecord(row pgx.Row) (SubdomainRecord, error) {
	var rec SubdomainRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.State, &rec.ReservedByEmail, &rec.ReservationExpiresAt, &rec.WebsiteID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubdomainRecord{}, ErrNotFound
		}
		return SubdomainRecord{}, err
	}
	return rec, nil
}
